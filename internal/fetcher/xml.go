package fetcher

import (
	"encoding/xml"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrStopStreaming ends a StreamXML scan early when returned from the
// callback. The scan reports no error.
var ErrStopStreaming = errors.New("fetcher: stop streaming")

// StreamXML scans the document for elements with the given local name and
// decodes each into a T before handing it to fn. Activity files from
// Norwegian publishers arrive in several encodings, so the charset reader
// accepts anything the HTML index knows (notably ISO-8859-1).
func StreamXML[T any](r io.Reader, localName string, fn func(*T) error) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "fetcher: read xml token")
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != localName {
			continue
		}

		var item T
		if err := dec.DecodeElement(&item, &se); err != nil {
			return eris.Wrap(err, "fetcher: decode xml element")
		}
		if err := fn(&item); err != nil {
			if errors.Is(err, ErrStopStreaming) {
				return nil
			}
			return err
		}
	}
}
