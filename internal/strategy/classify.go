package strategy

import (
	"regexp"
	"strings"

	"github.com/toolhub/offlinesync/internal/fetch"
)

// Class is the request classification driving strategy selection.
type Class string

const (
	ClassToolPage    Class = "tool-page"
	ClassStaticAsset Class = "static-asset"
	ClassAPI         Class = "api"
	ClassGeneral     Class = "general"
)

var staticExtensionPattern = regexp.MustCompile(`\.(?:js|mjs|css|png|jpe?g|svg|gif|ico|webp|avif|woff2?|ttf|otf|map|json|txt|webmanifest)$`)

// Classifier assigns each request path to a class. First match wins:
// known tool page or root, static file extension, API prefix, general.
type Classifier struct {
	toolPages map[string]struct{}
	apiPrefix string
}

func NewClassifier(toolPages []string, apiPrefix string) *Classifier {
	pages := make(map[string]struct{}, len(toolPages))
	for _, page := range toolPages {
		page = normalizePagePath(page)
		if page != "" {
			pages[page] = struct{}{}
		}
	}
	if strings.TrimSpace(apiPrefix) == "" {
		apiPrefix = "/api/"
	}
	return &Classifier{toolPages: pages, apiPrefix: apiPrefix}
}

func (c *Classifier) Classify(req fetch.Request) Class {
	path := normalizePagePath(req.Path)
	if path == "/" {
		return ClassToolPage
	}
	if _, ok := c.toolPages[path]; ok {
		return ClassToolPage
	}
	if staticExtensionPattern.MatchString(path) {
		return ClassStaticAsset
	}
	if strings.HasPrefix(path, c.apiPrefix) || path+"/" == c.apiPrefix {
		return ClassAPI
	}
	return ClassGeneral
}

func (c *Classifier) IsAPI(req fetch.Request) bool {
	return c.Classify(req) == ClassAPI
}

func normalizePagePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
