package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/courier-agent/courier/internal/llm"
)

// loadResourceContext fetches every discovered resource and converts
// its contents into LLM content blocks: text contents become labeled
// text blocks, image blobs become inline image blocks, and anything
// else is skipped with a warning.
//
// Failures are isolated per URI — an error fetching one resource is
// logged and that resource contributes no blocks, but the remaining
// URIs still load and the turn proceeds.
func (a *Agent) loadResourceContext(ctx context.Context, logger *slog.Logger) []llm.ContentBlock {
	var blocks []llm.ContentBlock

	for _, res := range a.resources {
		contents, err := a.provider.ReadResource(ctx, res.URI)
		if err != nil {
			logger.Warn("failed to load resource, skipping",
				"uri", res.URI,
				"error", err,
			)
			continue
		}

		for _, c := range contents {
			switch {
			case c.IsText():
				blocks = append(blocks, llm.TextBlock(
					fmt.Sprintf("[Resource: %s]\n%s", res.URI, c.Text),
				))
			case c.IsImage():
				blocks = append(blocks, llm.ImageBlock(c.MimeType, c.Blob))
			default:
				logger.Warn("unsupported resource content type, skipping",
					"uri", res.URI,
					"mime_type", c.MimeType,
				)
			}
		}
	}

	return blocks
}
