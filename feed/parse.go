package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// ErrNotXML is returned by Parse when the input fails the cheap pre-parse
// probe: it does not start (after an optional BOM and whitespace) with '<',
// or none of the expected root markers appear in the first kilobyte.
var ErrNotXML = errors.New("feed: input does not look like an RSS/Atom document")

const probeWindow = 1024

var rootMarkers = []string{"<rss", "<feed", "<rdf", "<?xml"}

// Options configures Parse.
type Options struct {
	// OnItem is called once per fully-parsed item, in document order. If it
	// returns true, parsing stops immediately: the current item is
	// discarded and no further items are added to ParsedFeed.Items. This
	// is the hook the dedup layer uses to stop once it reaches an item it
	// has already recorded, relying on feeds being newest-first.
	OnItem func(Item) bool
}

// Parse parses a complete RSS 2.0 or Atom 1.0 document already decoded to
// UTF-8. It tolerates the malformed XML real-world feeds frequently contain
// (undeclared entities, mismatched encoding declarations) by running in
// non-strict mode. A per-item parse failure does not fail the whole feed;
// only a document that yields zero items returns an error.
func Parse(data []byte, opts Options) (*ParsedFeed, error) {
	if err := probe(data); err != nil {
		return nil, err
	}

	p := &parser{opts: opts}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.Entity = namedEntities
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			break // tolerate trailing garbage; keep whatever was parsed so far
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.startElement(rawName(t.Name), t.Attr)
		case xml.CharData:
			p.charData(string(t))
		case xml.EndElement:
			if p.endElement(rawName(t.Name)) {
				p.feed.Description = p.feedDesc.resolve()
				return &p.feed, nil
			}
		}
	}

	p.feed.Description = p.feedDesc.resolve()
	if len(p.feed.Items) == 0 {
		return nil, errors.New("feed: document parsed but contained no items")
	}
	return &p.feed, nil
}

func probe(data []byte) error {
	i := 0
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		i = 3
	}
	for i < len(data) && isXMLSpace(data[i]) {
		i++
	}
	if i >= len(data) || data[i] != '<' {
		return ErrNotXML
	}
	end := len(data)
	if end > probeWindow {
		end = probeWindow
	}
	head := bytes.ToLower(data[:end])
	for _, marker := range rootMarkers {
		if bytes.Contains(head, []byte(marker)) {
			return nil
		}
	}
	return ErrNotXML
}

func isXMLSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func rawName(n xml.Name) string {
	if n.Space != "" {
		return strings.ToLower(n.Space + ":" + n.Local)
	}
	return strings.ToLower(n.Local)
}

func attrVal(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// descBuilder resolves the description-priority rule: a direct description
// source (description/content:encoded/media:description/subtitle) always
// wins; summary is the first fallback; content is the last.
type descBuilder struct {
	direct, summary, content string
}

func (d *descBuilder) setDirect(s string) {
	if d.direct == "" {
		d.direct = s
	}
}
func (d *descBuilder) setSummary(s string) {
	if d.summary == "" {
		d.summary = s
	}
}
func (d *descBuilder) setContent(s string) {
	if d.content == "" {
		d.content = s
	}
}
func (d *descBuilder) resolve() string {
	if d.direct != "" {
		return d.direct
	}
	if d.summary != "" {
		return d.summary
	}
	return d.content
}

type captureTarget struct {
	tag     string
	depth   int
	buf     strings.Builder
	assign  func(string)
	useHTML bool
}

type parser struct {
	opts Options
	feed ParsedFeed

	depth int

	cur          *Item
	itemDepth    int
	itemDesc     *descBuilder
	feedDesc     descBuilder
	pendingEncl  string

	inAuthor   bool
	authorDepth int

	active *captureTarget
}

var directDescTags = map[string]bool{"description": true, "content:encoded": true, "media:description": true, "subtitle": true}
var itemDateTags = map[string]bool{"pubdate": true, "published": true, "dc:date": true, "date": true, "updated": true}
var identityTags = map[string]bool{"guid": true, "id": true}

func (p *parser) startElement(name string, attrs []xml.Attr) {
	depthBefore := p.depth

	switch name {
	case "item", "entry":
		p.cur = &Item{}
		p.itemDepth = depthBefore
		p.itemDesc = &descBuilder{}
		p.pendingEncl = ""
	case "author":
		p.inAuthor = true
		p.authorDepth = depthBefore
	case "link":
		href := attrVal(attrs, "href")
		if href != "" {
			p.setLink(href)
		} else if p.active == nil {
			p.active = &captureTarget{tag: "link", depth: depthBefore, assign: p.setLink}
		}
	case "enclosure":
		if p.cur != nil && p.pendingEncl == "" {
			p.pendingEncl = attrVal(attrs, "url")
		}
	default:
		if p.active == nil {
			if target, useHTML, ok := p.resolveCaptureTarget(name); ok {
				p.active = &captureTarget{tag: name, depth: depthBefore, assign: target, useHTML: useHTML}
			}
		}
	}
	p.depth++
}

func (p *parser) resolveCaptureTarget(name string) (assign func(string), useHTML bool, ok bool) {
	if p.inAuthor {
		switch name {
		case "name":
			return func(t string) {
				if p.cur == nil && p.feed.AuthorName == "" {
					p.feed.AuthorName = t
				}
			}, true, true
		case "uri":
			return func(t string) {
				if p.cur == nil && p.feed.AuthorURI == "" {
					p.feed.AuthorURI = t
				}
			}, false, true
		}
	}

	switch {
	case name == "title":
		return func(t string) {
			if p.cur != nil {
				if p.cur.Title == "" {
					p.cur.Title = t
				}
			} else if p.feed.Title == "" {
				p.feed.Title = t
			}
		}, true, true
	case directDescTags[name]:
		return func(t string) {
			if p.cur != nil {
				p.itemDesc.setDirect(t)
			} else {
				p.feedDesc.setDirect(t)
			}
		}, true, true
	case name == "summary":
		return func(t string) {
			if p.cur != nil {
				p.itemDesc.setSummary(t)
			} else {
				p.feedDesc.setSummary(t)
			}
		}, true, true
	case name == "content":
		return func(t string) {
			if p.cur != nil {
				p.itemDesc.setContent(t)
			} else {
				p.feedDesc.setContent(t)
			}
		}, true, true
	case itemDateTags[name] && p.cur != nil:
		return func(t string) {
			if p.cur.PubDate == "" {
				p.cur.PubDate = t
			}
		}, false, true
	case name == "lastbuilddate" && p.cur == nil:
		return func(t string) {
			if p.feed.LastBuildDate == "" {
				p.feed.LastBuildDate = t
			}
		}, false, true
	case identityTags[name] && p.cur != nil:
		return func(t string) {
			if p.cur.GUID == "" {
				p.cur.GUID = t
			}
		}, false, true
	case name == "language" && p.cur == nil:
		return func(t string) {
			if p.feed.Language == "" {
				p.feed.Language = t
			}
		}, false, true
	case name == "generator" && p.cur == nil:
		return func(t string) {
			if p.feed.Generator == "" {
				p.feed.Generator = t
			}
		}, false, true
	}
	return nil, false, false
}

func (p *parser) setLink(href string) {
	href = strings.TrimSpace(href)
	if href == "" {
		return
	}
	if p.cur != nil {
		if p.cur.Link == "" {
			p.cur.Link = href
		}
		return
	}
	if p.feed.Link == "" {
		p.feed.Link = href
	}
}

func (p *parser) charData(text string) {
	if p.active != nil && p.depth >= p.active.depth+1 {
		p.active.buf.WriteString(text)
	}
}

// endElement returns true if the early-abort callback fired and parsing
// should stop immediately.
func (p *parser) endElement(name string) bool {
	p.depth--

	if p.active != nil && name == p.active.tag && p.depth == p.active.depth {
		text := p.active.buf.String()
		if p.active.useHTML {
			text = CleanHTML(text)
		} else {
			text = strings.TrimSpace(text)
		}
		p.active.assign(text)
		p.active = nil
	}

	if name == "author" && p.inAuthor && p.depth == p.authorDepth {
		p.inAuthor = false
	}

	if (name == "item" || name == "entry") && p.cur != nil && p.depth == p.itemDepth {
		return p.finalizeItem()
	}
	return false
}

func (p *parser) finalizeItem() bool {
	item := *p.cur
	item.Description = p.itemDesc.resolve()
	if item.Link == "" && p.pendingEncl != "" {
		item.Link = p.pendingEncl
	}
	item.Timestamp = ParseDate(item.PubDate)

	p.cur = nil
	p.itemDesc = nil

	if p.opts.OnItem != nil && p.opts.OnItem(item) {
		return true
	}
	p.feed.Items = append(p.feed.Items, item)
	return false
}
