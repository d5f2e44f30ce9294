package extract

import (
	"regexp"
	"strings"

	"github.com/ppiankov/xfattach/internal/model"
)

// xenforo-dl writes every attachment as four lines:
//
//	photo.jpg
//	[data:image/jpeg;base64,...]
//	photo.jpg
//	[https://forum.example/attachments/photo-jpg.123/]
var (
	dataLinePattern = regexp.MustCompile(`^\[data:image/[A-Za-z0-9.+-]+;base64,[^\]]*\]$`)
	urlLinePattern  = regexp.MustCompile(`^\[(https?://[^\]]+)\]$`)
)

// Attachments scans export text and returns every attachment block in order of appearance.
// Scanning resumes right after each match, so blocks never overlap.
func Attachments(text string) []model.AttachmentBlock {
	lines := splitLines(text)

	var blocks []model.AttachmentBlock
	for i := 0; i+3 < len(lines); {
		block, ok := matchBlock(lines[i], lines[i+1], lines[i+2], lines[i+3])
		if !ok {
			i++
			continue
		}
		blocks = append(blocks, block)
		i += 4
	}

	return blocks
}

// matchBlock checks four consecutive lines against the attachment layout.
// The name line must repeat byte for byte, before any trimming.
func matchBlock(name, data, repeat, link string) (model.AttachmentBlock, bool) {
	if name == "" || strings.ContainsRune(name, '\r') {
		return model.AttachmentBlock{}, false
	}
	if !dataLinePattern.MatchString(data) {
		return model.AttachmentBlock{}, false
	}
	if repeat != name {
		return model.AttachmentBlock{}, false
	}

	m := urlLinePattern.FindStringSubmatch(link)
	if m == nil {
		return model.AttachmentBlock{}, false
	}

	return model.AttachmentBlock{
		Name: strings.TrimSpace(name),
		URL:  strings.TrimSpace(m[1]),
	}, true
}

// splitLines splits on \n and drops the \r of \r\n endings
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
