package mp4bot

// Version is reported in reply footers and the outgoing User-Agent.
const Version = "2.0.0"

// UserAgent identifies the bot to remote hosts.
const UserAgent = "mp4bot v" + Version
