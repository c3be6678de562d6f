package reply

// DefaultTemplates is the stock reply wording. Deployments override parts
// per subreddit from configuration.
func DefaultTemplates() TemplateSet {
	return TemplateSet{
		Reply: "{{linkContainer}}\n\n{{sizeComparisonText}}{{webmSmallerText}}{{uploadNotice}}" +
			"\n\n---\n\n^(I am a bot.) ^v{{version}}",
		Parts: map[string]string{
			"linkContainer":      "[Link to mp4]({{link}})",
			"mirrorContainer":    "[mp4 mirror]({{displayLink}})",
			"sizeComparisonText": "^(mp4 is {{mp4Save}}% smaller than the gif, {{mp4Size}} instead of {{gifSize}}.)",
			"webmSmallerText":    " ^(The webm is even smaller at {{webmSize}}, {{webmSave}}% less.)",
			"uploadNotice":       " ^(This mp4 was created by me from the original gif.)",
		},
		Subreddits: map[string]map[string]string{},
	}
}
