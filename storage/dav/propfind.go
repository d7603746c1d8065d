package dav

import (
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// propfindBody asks for the four properties the listing needs plus the
// content type. Servers are free to answer with more; extras are ignored.
const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
	<D:prop>
		<D:displayname/>
		<D:getcontentlength/>
		<D:getcontenttype/>
		<D:getlastmodified/>
		<D:resourcetype/>
	</D:prop>
</D:propfind>`

// The multistatus types below deliberately match on local element names
// only. Servers disagree on namespace prefixes (D:, d:, none at all), and
// encoding/xml matches the bare tag name regardless of prefix, which is
// exactly the tolerance needed here.
type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	DisplayName      string       `xml:"displayname"`
	GetContentLength string       `xml:"getcontentlength"`
	GetContentType   string       `xml:"getcontenttype"`
	GetLastModified  string       `xml:"getlastmodified"`
	ResourceType     resourceType `xml:"resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// okProp returns the property set from the 2xx propstat, if any.
func (r davResponse) okProp() (prop, bool) {
	for _, ps := range r.Propstats {
		if strings.Contains(ps.Status, " 200 ") || strings.Contains(ps.Status, " 207 ") {
			return ps.Prop, true
		}
	}
	return prop{}, false
}

func (p prop) isCollection() bool {
	return p.ResourceType.Collection != nil
}

func (p prop) size() int64 {
	n, err := strconv.ParseInt(p.GetContentLength, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (p prop) lastModified() time.Time {
	t, err := http.ParseTime(p.GetLastModified)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseMultistatus(r io.Reader) (multistatus, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return multistatus{}, err
	}
	return ms, nil
}
