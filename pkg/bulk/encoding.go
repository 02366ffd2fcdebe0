package bulk

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/wehubfusion/Talos/pkg/host"
	"github.com/wehubfusion/Talos/pkg/transcode"
)

// LookupEncoding maps an encoding name to an encoding. The empty name is
// UTF-8. Names not listed here go through the WHATWG index.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "utf-16le", "utf16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf-16be", "utf16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// DecodeList builds a text list from raw items in enc. Latin-1 bytes are
// already one-byte code units and are wrapped without decoding.
func DecodeList(items [][]byte, enc encoding.Encoding) (*host.List, error) {
	objs := make([]host.Object, len(items))
	for i, raw := range items {
		if enc == charmap.ISO8859_1 {
			objs[i] = host.NewUCS1(bytes.Clone(raw))
			continue
		}
		s, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		objs[i] = host.NewText(string(s))
	}
	return host.NewList(objs...), nil
}

// EncodeList writes every text element of l in enc. Characters enc cannot
// represent are an error.
func EncodeList(l *host.List, enc encoding.Encoding) ([][]byte, error) {
	view := l.View()
	out := make([][]byte, view.Len())
	for i := range out {
		t := view.Text(i)
		if enc == charmap.ISO8859_1 && t.Width() == transcode.Width1 {
			out[i] = bytes.Clone(t.UCS1())
			continue
		}
		b, err := enc.NewEncoder().String(t.String())
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = []byte(b)
	}
	return out, nil
}
