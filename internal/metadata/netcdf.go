package metadata

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
)

var netcdfKeys = []string{"variables", "dimensions", "globalAttributes", "spatialCoverage", "temporalCoverage"}

var (
	latNames  = []string{"lat", "latitude", "y"}
	lonNames  = []string{"lon", "longitude", "x"}
	timeNames = []string{"time", "t"}

	cfTimeUnits = regexp.MustCompile(`^\s*(\w+)\s+since\s+(.+?)\s*$`)
)

type netcdfObject struct {
	fileObject
}

func (n *netcdfObject) ContentType() types.ContentType { return types.ContentTypeNetCDF }
func (n *netcdfObject) ExtractedKeys() []string { return netcdfKeys }

func matchNetCDF(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	if !contentsOnly(p) || ext(p.Rel) != ".nc" {
		return nil, nil
	}
	return &netcdfObject{fileObject{newBase(e, p, fileUpdated)}}, nil
}

func (n *netcdfObject) ExtractMetadata(ctx context.Context) (map[string]any, error) {
	data, err := n.get(ctx)
	if err != nil {
		return nil, extractionError(types.ContentTypeNetCDF, n.FilePath(), err)
	}
	f, err := parseCDF(data)
	if err != nil {
		return nil, extractionError(types.ContentTypeNetCDF, n.FilePath(), err)
	}
	return f.fields(), nil
}

func (f *cdfFile) fields() map[string]any {
	dims := make([]map[string]any, 0, len(f.Dims))
	for i, d := range f.Dims {
		dims = append(dims, map[string]any{
			"name":      d.Name,
			"length":    f.dimLength(i),
			"unlimited": d.Unlimited,
		})
	}

	vars := make([]map[string]any, 0, len(f.Vars))
	for _, v := range f.Vars {
		shape := make([]string, 0, len(v.Dims))
		for _, id := range v.Dims {
			shape = append(shape, f.Dims[id].Name)
		}
		entry := map[string]any{
			"name":       v.Name,
			"type":       v.Type.String(),
			"dimensions": shape,
		}
		if a, ok := attr(v.Attrs, "units"); ok {
			entry["unit"] = a.String()
		}
		if a, ok := attr(v.Attrs, "long_name"); ok {
			entry["descriptiveName"] = a.String()
		}
		if a, ok := attr(v.Attrs, "_FillValue"); ok {
			entry["missingValue"] = jsonValue(a.Value)
		}
		vars = append(vars, entry)
	}

	globals := make(map[string]any, len(f.Attrs))
	for _, a := range f.Attrs {
		globals[a.Name] = jsonValue(a.Value)
	}

	out := map[string]any{
		"dimensions":       dims,
		"variables":        vars,
		"globalAttributes": globals,
	}
	if cov := f.spatialCoverage(); cov != nil {
		out["spatialCoverage"] = cov
	}
	if cov := f.temporalCoverage(); cov != nil {
		out["temporalCoverage"] = cov
	}
	return out
}

// jsonValue replaces non-finite numbers, which JSON cannot carry.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		if !finite(x) {
			return nil
		}
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = jsonValue(f)
		}
		return out
	}
	return v
}

// spatialCoverage uses lat/lon coordinate variables, then geospatial_*
// global attributes.
func (f *cdfFile) spatialCoverage() map[string]any {
	var box extent
	lat, lon := f.coordinate(latNames), f.coordinate(lonNames)
	if lat != nil && lon != nil {
		lats, err1 := f.validValues(lat)
		lons, err2 := f.validValues(lon)
		if err1 == nil && err2 == nil && len(lats) > 0 && len(lons) > 0 {
			for _, y := range lats {
				box.add(lons[0], y)
			}
			for _, x := range lons {
				box.add(x, lats[0])
			}
		}
	}
	if box.empty() {
		bounds := make([]float64, 0, 4)
		for _, name := range []string{"geospatial_lon_min", "geospatial_lat_min", "geospatial_lon_max", "geospatial_lat_max"} {
			a, ok := attr(f.Attrs, name)
			if !ok {
				return nil
			}
			v, ok := a.Float()
			if !ok {
				return nil
			}
			bounds = append(bounds, v)
		}
		box.add(bounds[0], bounds[1])
		box.add(bounds[2], bounds[3])
	}
	if box.empty() {
		return nil
	}
	return box.coverage()
}

// temporalCoverage uses a CF time coordinate, then time_coverage_* attributes.
func (f *cdfFile) temporalCoverage() map[string]any {
	var span period
	if v := f.coordinate(timeNames); v != nil {
		if units, ok := attr(v.Attrs, "units"); ok {
			if vals, err := f.validValues(v); err == nil {
				for _, x := range vals {
					if t, ok := cfTime(units.String(), x); ok {
						span.add(t)
					}
				}
			}
		}
	}
	if span.empty() {
		start, ok1 := attr(f.Attrs, "time_coverage_start")
		end, ok2 := attr(f.Attrs, "time_coverage_end")
		if ok1 && ok2 {
			if t, ok := parseTime(strings.TrimSpace(start.String())); ok {
				span.add(t)
			}
			if t, ok := parseTime(strings.TrimSpace(end.String())); ok {
				span.add(t)
			}
		}
	}
	if span.empty() {
		return nil
	}
	return span.coverage()
}

func (f *cdfFile) coordinate(names []string) *cdfVar {
	for _, name := range names {
		for i := range f.Vars {
			if strings.EqualFold(f.Vars[i].Name, name) && len(f.Vars[i].Dims) == 1 {
				return &f.Vars[i]
			}
		}
	}
	return nil
}

// validValues drops fill values and non-finite values.
func (f *cdfFile) validValues(v *cdfVar) ([]float64, error) {
	vals, err := f.values(v)
	if err != nil {
		return nil, err
	}
	fill, hasFill := 0.0, false
	if a, ok := attr(v.Attrs, "_FillValue"); ok {
		fill, hasFill = a.Float()
	}
	out := vals[:0]
	for _, x := range vals {
		if !finite(x) || (hasFill && x == fill) {
			continue
		}
		out = append(out, x)
	}
	return out, nil
}

// cfTime converts a value in CF "<unit> since <epoch>" units.
func cfTime(units string, value float64) (time.Time, bool) {
	m := cfTimeUnits.FindStringSubmatch(units)
	if m == nil {
		return time.Time{}, false
	}
	epoch, ok := parseTime(strings.TrimSuffix(strings.TrimSpace(m[2]), " UTC"))
	if !ok {
		return time.Time{}, false
	}
	var unit time.Duration
	switch strings.ToLower(m[1]) {
	case "seconds", "second", "secs", "sec", "s":
		unit = time.Second
	case "minutes", "minute", "mins", "min":
		unit = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		unit = time.Hour
	case "days", "day", "d":
		unit = 24 * time.Hour
	default:
		return time.Time{}, false
	}
	return epoch.Add(time.Duration(value * float64(unit))), true
}
