package httpindex

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/satdatalab/satseries/common"
	"github.com/satdatalab/satseries/interface/catalog"
	"github.com/satdatalab/satseries/service"
	"github.com/satdatalab/satseries/service/log"
	"golang.org/x/net/html"
)

// Lister enumerates product objects by scraping an HTTP directory index:
// plain autoindex pages as well as OPeNDAP contents pages.
type Lister struct {
	Endpoint string // overrides the product index address (strftime template)
	Username string
	Password string
	Token    string
}

// Name implements catalog.Lister
func (l *Lister) Name() string {
	return "httpindex"
}

// List implements catalog.Lister
func (l *Lister) List(ctx context.Context, product *common.Product, day time.Time, mesoregion string) ([]common.ObjectRef, error) {
	address := l.Endpoint
	if address == "" {
		address = product.IndexURL
	}
	if address == "" {
		return nil, fmt.Errorf("httpindex: no index address configured for %s", product.Name)
	}
	address = common.Strftime(address, day)

	base, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("httpindex.Parse[%s]: %w", address, err)
	}
	body, err := service.HTTPGetWithAuth(ctx, address, l.Username, l.Password, l.Token)
	if err != nil {
		return nil, fmt.Errorf("httpindex.Get[%s]: %w", address, err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpindex.ParseHTML[%s]: %w", address, err)
	}

	var refs []common.ObjectRef
	seen := service.StringSet{}
	walkNodes(doc, func(node *html.Node) {
		if node.Type != html.ElementNode || node.Data != "a" {
			return
		}
		for _, a := range node.Attr {
			if a.Key != "href" {
				continue
			}
			// OPeNDAP decorates each file with a viewer page
			href := strings.TrimSuffix(a.Val, ".html")
			rel, err := url.Parse(href)
			if err != nil {
				continue
			}
			target := base.ResolveReference(rel)
			target.RawQuery, target.Fragment = "", ""
			ref, err := product.ParseRef(target.String())
			if err != nil {
				continue
			}
			if !catalog.SameDay(ref.Time, day) || seen.Exists(ref.Address) {
				continue
			}
			seen.Push(ref.Address)
			refs = append(refs, ref)
		}
	})
	log.Logger(ctx).Sugar().Debugf("[HTTPIndex] %s: %d objects", address, len(refs))
	return refs, nil
}

// walkNodes calls fn on every node of the parse tree, depth first.
func walkNodes(root *html.Node, fn func(*html.Node)) {
	fn(root)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walkNodes(c, fn)
	}
}
