package point

import (
	"bytes"
	"encoding/xml"

	"github.com/grailbio/base/log"
)

// xmlDimension is one <dimension> element of the schema document served
// to clients.
type xmlDimension struct {
	XMLName        xml.Name `xml:"dimension"`
	Position       int      `xml:"position"`
	Size           int      `xml:"size"`
	Name           string   `xml:"name"`
	Interpretation string   `xml:"interpretation"`
}

type xmlSchema struct {
	XMLName    xml.Name `xml:"pointcloudschema"`
	Dimensions []xmlDimension
}

// XML renders the packed-schema description document: one <dimension>
// element per registered dimension, in registration order, with
// one-based positions.
func (c *Context) XML() string {
	doc := xmlSchema{}
	for i := range c.dims {
		di := &c.dims[i]
		doc.Dimensions = append(doc.Dimensions, xmlDimension{
			Position:       i + 1,
			Size:           di.typ.Size,
			Name:           di.name,
			Interpretation: di.typ.Interpretation(),
		})
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		log.Panicf("point: schema XML: %v", err)
	}
	return buf.String()
}
