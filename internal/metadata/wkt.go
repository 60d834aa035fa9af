package metadata

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	wktName      = regexp.MustCompile(`^\s*([A-Z_]+)\[\s*"([^"]*)"`)
	wktAuthority = regexp.MustCompile(`(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	epsgCode     = regexp.MustCompile(`^(?i:EPSG):(\d+)$`)
)

// crs is a coordinate reference system summary taken from WKT or an EPSG code.
type crs struct {
	Name string
	EPSG int
}

// parseCRS accepts "EPSG:n" or WKT1/WKT2. The outermost authority is the last
// one in the text.
func parseCRS(s string) crs {
	s = strings.TrimSpace(s)
	if m := epsgCode.FindStringSubmatch(s); m != nil {
		code, _ := strconv.Atoi(m[1])
		return crs{Name: "EPSG:" + m[1], EPSG: code}
	}
	var out crs
	if m := wktName.FindStringSubmatch(s); m != nil {
		out.Name = m[2]
	}
	if all := wktAuthority.FindAllStringSubmatch(s, -1); len(all) > 0 {
		out.EPSG, _ = strconv.Atoi(all[len(all)-1][1])
	}
	return out
}

func (c crs) fields(into map[string]any) {
	if c.Name != "" {
		into["projection"] = c.Name
	}
	if c.EPSG != 0 {
		into["epsg"] = c.EPSG
	}
}
