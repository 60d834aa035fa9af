package metadata

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/jonas-p/go-shp"
)

var (
	featureRequired = []string{".shp", ".shx", ".dbf"}
	featureOptional = []string{".prj", ".cpg", ".sbn", ".sbx", ".fbn", ".fbx", ".ain", ".aih", ".atx", ".ixs", ".mxs", ".shp.xml"}
	featureKeys     = []string{"geometryType", "featureCount", "fieldInformation", "spatialCoverage"}
)

var shapeTypeNames = map[shp.ShapeType]string{
	shp.NULL:        "NULL",
	shp.POINT:       "POINT",
	shp.POLYLINE:    "POLYLINE",
	shp.POLYGON:     "POLYGON",
	shp.MULTIPOINT:  "MULTIPOINT",
	shp.POINTZ:      "POINTZ",
	shp.POLYLINEZ:   "POLYLINEZ",
	shp.POLYGONZ:    "POLYGONZ",
	shp.MULTIPOINTZ: "MULTIPOINTZ",
	shp.POINTM:      "POINTM",
	shp.POLYLINEM:   "POLYLINEM",
	shp.POLYGONM:    "POLYGONM",
	shp.MULTIPOINTM: "MULTIPOINTM",
	shp.MULTIPATCH:  "MULTIPATCH",
}

var dbfFieldTypes = map[byte]string{
	'C': "Character",
	'N': "Numeric",
	'F': "Float",
	'L': "Logical",
	'D': "Date",
}

// featureObject is a shapefile set: every member shares the stem of the .shp.
type featureObject struct {
	*baseObject
	stem string
	// members maps a required or present optional extension to its rel path.
	members map[string]string
}

func (f *featureObject) ContentType() types.ContentType { return types.ContentTypeFeature }
func (f *featureObject) ContentsPath() string { return f.members[".shp"] }
func (f *featureObject) DocumentPath() string { return f.path.FileDocument(f.members[".shp"]) }
func (f *featureObject) ExtractedKeys() []string { return featureKeys }

func (f *featureObject) AssociatedMedia() []types.MediaObject {
	stem := strings.ToLower(f.stem)
	return f.selectMedia(func(rel string) bool {
		lower := strings.ToLower(rel)
		if !strings.HasPrefix(lower, stem) {
			return false
		}
		suffix := lower[len(stem):]
		for _, e := range featureRequired {
			if suffix == e {
				return true
			}
		}
		for _, e := range featureOptional {
			if suffix == e {
				return true
			}
		}
		return false
	})
}

// featureStem strips a recognized shapefile member extension.
func featureStem(rel string) (string, bool) {
	lower := strings.ToLower(rel)
	for _, group := range [][]string{featureOptional, featureRequired} {
		for _, e := range group {
			if strings.HasSuffix(lower, e) && len(rel) > len(e) {
				return rel[:len(rel)-len(e)], true
			}
		}
	}
	return "", false
}

// matchFeature requires all of .shp, .shx and .dbf; a missing companion falls
// through to the next type.
func matchFeature(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	if !contentsOnly(p) {
		return nil, nil
	}
	stem, ok := featureStem(p.Rel)
	if !ok {
		return nil, nil
	}
	members := make(map[string]string, len(featureRequired))
	for _, extension := range featureRequired {
		rel, found, err := findCompanion(ctx, store, p.Resource, stem, extension)
		if err != nil || !found {
			return nil, err
		}
		members[extension] = rel
	}
	for _, extension := range []string{".prj", ".cpg"} {
		rel, found, err := findCompanion(ctx, store, p.Resource, stem, extension)
		if err != nil {
			return nil, err
		}
		if found {
			members[extension] = rel
		}
	}
	return &featureObject{baseObject: newBase(e, p, fileUpdated), stem: stem, members: members}, nil
}

func (f *featureObject) ExtractMetadata(ctx context.Context) (map[string]any, error) {
	shpPath := f.path.Content(f.members[".shp"])
	files := make(map[string]string, len(f.members))
	for extension, rel := range f.members {
		files[f.path.Content(rel)] = "layer" + extension
	}
	st, err := f.env.stager.Stage(ctx, f.env.store, files)
	if err != nil {
		return nil, extractionError(types.ContentTypeFeature, shpPath, err)
	}
	defer st.Close()

	out, err := readShapefile(st.Path("layer.shp"))
	if err != nil {
		return nil, extractionError(types.ContentTypeFeature, shpPath, err)
	}

	if _, ok := f.members[".prj"]; ok {
		data, err := f.env.store.Get(ctx, f.path.Content(f.members[".prj"]))
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, extractionError(types.ContentTypeFeature, shpPath, err)
		}
		if cov, ok := out["spatialCoverage"].(map[string]any); ok && err == nil {
			parseCRS(string(data)).fields(cov)
		}
	}
	return out, nil
}

// shpFileCode opens every .shp header.
const shpFileCode = 9994

func checkShapefileHeader(local string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	header := make([]byte, 100)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("shapefile header too short: %w", err)
	}
	if code := binary.BigEndian.Uint32(header); code != shpFileCode {
		return fmt.Errorf("bad shapefile file code %d", code)
	}
	return nil
}

func readShapefile(local string) (out map[string]any, err error) {
	if err := checkShapefileHeader(local); err != nil {
		return nil, err
	}
	r, err := shp.Open(local)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer r.Close()
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("malformed shapefile: %v", p)
		}
	}()

	count := 0
	for r.Next() {
		count++
	}

	fields := make([]map[string]any, 0)
	for _, field := range r.Fields() {
		kind, ok := dbfFieldTypes[field.Fieldtype]
		if !ok {
			kind = string(field.Fieldtype)
		}
		fields = append(fields, map[string]any{
			"name":      strings.TrimRight(string(field.Name[:]), "\x00"),
			"type":      kind,
			"size":      int(field.Size),
			"precision": int(field.Precision),
		})
	}

	geometry, ok := shapeTypeNames[r.GeometryType]
	if !ok {
		geometry = fmt.Sprintf("UNKNOWN(%d)", r.GeometryType)
	}
	out = map[string]any{
		"geometryType":     geometry,
		"featureCount":     count,
		"fieldInformation": fields,
	}

	var box extent
	bbox := r.BBox()
	box.add(bbox.MinX, bbox.MinY)
	box.add(bbox.MaxX, bbox.MaxY)
	if count > 0 && !box.empty() {
		out["spatialCoverage"] = box.coverage()
	}
	return out, nil
}
