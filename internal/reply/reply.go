// Package reply renders the comment posted under an item once its link has
// been resolved to a video.
package reply

import (
	"fmt"
	"strings"

	"mp4bot"
)

// A TemplateSet is the reply text plus its named fragments. Fragments may
// reference other fragments and value placeholders; everything uses the
// {{name}} syntax so templates stay editable without rebuilding.
type TemplateSet struct {
	Reply string
	Parts map[string]string
	// Per-subreddit part overrides, keyed by lowercase subreddit name.
	// Overrides replace individual parts, not the whole set.
	Subreddits map[string]map[string]string
}

// Data is everything a reply can mention.
type Data struct {
	Item      *mp4bot.ResolvedItem
	Link      string
	Subreddit string
	// Uploaded is true when the video exists because the bot transcoded it,
	// rather than the host already having one.
	Uploaded bool
}

type Renderer struct {
	templates TemplateSet
	version   string
}

func NewRenderer(templates TemplateSet, version string) *Renderer {
	return &Renderer{templates: templates, version: version}
}

// maxExpandPasses bounds fragment expansion so a template that references
// itself cannot loop forever.
const maxExpandPasses = 5

func (r *Renderer) Render(data Data) (string, error) {
	if data.Item == nil {
		return "", fmt.Errorf("cannot render reply without a resolved item")
	}
	replacements := r.valueReplacements(data)
	for name, part := range r.templates.Parts {
		replacements["{{"+name+"}}"] = part
	}
	if overrides, ok := r.templates.Subreddits[strings.ToLower(data.Subreddit)]; ok {
		for name, part := range overrides {
			replacements["{{"+name+"}}"] = part
		}
	}
	r.applyConditionalParts(data, replacements)

	text := r.templates.Reply
	for pass := 0; pass < maxExpandPasses; pass++ {
		expanded := text
		for placeholder, value := range replacements {
			expanded = strings.ReplaceAll(expanded, placeholder, value)
		}
		if expanded == text {
			break
		}
		text = expanded
	}
	return strings.TrimSpace(text), nil
}

func (r *Renderer) valueReplacements(data Data) map[string]string {
	item := data.Item
	replacements := map[string]string{
		"{{link}}":    item.Mp4Link,
		"{{version}}": r.version,
		"{{gifSize}}": mp4bot.ReadableFileSize(item.GifSize),
		"{{mp4Size}}": mp4bot.ReadableFileSize(item.Mp4Size),
	}
	if item.GifSize != mp4bot.SizeUnknown && item.Mp4Size != mp4bot.SizeUnknown {
		replacements["{{mp4Save}}"] = mp4bot.SavingsPercent(item.GifSize, item.Mp4Size)
	}
	if item.WebmSize != nil {
		replacements["{{webmSize}}"] = mp4bot.ReadableFileSize(*item.WebmSize)
		if item.GifSize != mp4bot.SizeUnknown {
			replacements["{{webmSave}}"] = mp4bot.SavingsPercent(item.GifSize, *item.WebmSize)
		}
	}
	if item.Mp4DisplayLink != "" {
		replacements["{{displayLink}}"] = item.Mp4DisplayLink
	} else {
		replacements["{{displayLink}}"] = item.Mp4Link
	}
	return replacements
}

// applyConditionalParts blanks or swaps fragments whose presence depends on
// the item, after overrides so subreddit-specific text still obeys the same
// conditions.
func (r *Renderer) applyConditionalParts(data Data, replacements map[string]string) {
	item := data.Item
	if item.GifSize == mp4bot.SizeUnknown || item.Mp4Size == mp4bot.SizeUnknown || item.Mp4Size >= item.GifSize {
		replacements["{{sizeComparisonText}}"] = ""
	}
	if item.WebmSize == nil || item.GifSize == mp4bot.SizeUnknown || *item.WebmSize >= item.Mp4Size {
		replacements["{{webmSmallerText}}"] = ""
	}
	if !data.Uploaded {
		replacements["{{uploadNotice}}"] = ""
	}
	if data.Uploaded {
		replacements["{{linkContainer}}"] = replacements["{{mirrorContainer}}"]
	}
}
