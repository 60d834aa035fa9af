package metadata

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/rwcarlsen/goexif/tiff"
)

var (
	rasterPrimaries = []string{".tif", ".tiff", ".vrt"}
	// Sidecars share the primary's stem ("a.tfw") or its full name ("a.tif.ovr").
	rasterSidecars = []string{".aux.xml", ".tfw", ".prj", ".ovr"}
	rasterKeys     = []string{"spatialCoverage", "cellInformation", "bandInformation", "bandCount"}
)

// GeoTIFF tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagSamplesPerPixel = 277
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113

	geoKeyGeographicType = 2048
	geoKeyProjectedType  = 3072
	geoKeyUserDefined    = 32767
)

type rasterObject struct {
	*baseObject
	primary string
	sources []string
}

func (r *rasterObject) ContentType() types.ContentType { return types.ContentTypeRaster }
func (r *rasterObject) ContentsPath() string { return r.primary }
func (r *rasterObject) DocumentPath() string { return r.path.FileDocument(r.primary) }
func (r *rasterObject) ExtractedKeys() []string { return rasterKeys }

func (r *rasterObject) AssociatedMedia() []types.MediaObject {
	members := append([]string{r.primary}, r.sources...)
	return r.selectMedia(func(rel string) bool {
		for _, m := range members {
			if rel == m || isSidecarOf(rel, m) {
				return true
			}
		}
		return false
	})
}

func isSidecarOf(rel, primary string) bool {
	if path.Dir(rel) != path.Dir(primary) {
		return false
	}
	lower := strings.ToLower(rel)
	full := strings.ToLower(primary)
	stem := strings.TrimSuffix(full, path.Ext(full))
	for _, sc := range rasterSidecars {
		if lower == stem+sc || lower == full+sc {
			return true
		}
	}
	return false
}

func matchRaster(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	if !contentsOnly(p) {
		return nil, nil
	}
	primary, ok, err := rasterPrimary(ctx, store, p.Resource, p.Rel)
	if err != nil || !ok {
		return nil, err
	}

	if ext(primary) != ".vrt" {
		owner, owned, err := owningVRT(ctx, store, p.Resource, primary)
		if err != nil {
			return nil, err
		}
		if owned {
			primary = owner
		}
	}

	obj := &rasterObject{baseObject: newBase(e, p, fileUpdated), primary: primary}
	if ext(primary) == ".vrt" {
		vrt, err := readVRT(ctx, store, p.Resource, primary)
		if err != nil {
			return nil, err
		}
		if vrt != nil {
			obj.sources = vrt.sourceRels(primary)
		}
	}
	return obj, nil
}

// rasterPrimary maps a primary or sidecar path to its primary raster file.
func rasterPrimary(ctx context.Context, store storage.Store, res storage.Resource, rel string) (string, bool, error) {
	if slices.Contains(rasterPrimaries, ext(rel)) {
		return rel, true, nil
	}
	lower := strings.ToLower(rel)
	for _, sc := range rasterSidecars {
		if !strings.HasSuffix(lower, sc) {
			continue
		}
		stem := rel[:len(rel)-len(sc)]
		if slices.Contains(rasterPrimaries, ext(stem)) {
			ok, err := store.Exists(ctx, res.Content(stem))
			return stem, ok, err
		}
		for _, pe := range rasterPrimaries {
			candidate, ok, err := findCompanion(ctx, store, res, stem, pe)
			if err != nil || ok {
				return candidate, ok, err
			}
		}
		return "", false, nil
	}
	return "", false, nil
}

// owningVRT returns the first .vrt in the same folder that references tif.
func owningVRT(ctx context.Context, store storage.Store, res storage.Resource, tif string) (string, bool, error) {
	dir, _ := storage.ParentFolder(tif)
	listed, err := store.List(ctx, folderPrefix(res, dir))
	if err != nil {
		return "", false, err
	}
	for _, full := range listed {
		rel, ok := res.RelOf(storage.TreeContents, full)
		if !ok || ext(rel) != ".vrt" || path.Dir(rel) != path.Dir(tif) {
			continue
		}
		vrt, err := readVRT(ctx, store, res, rel)
		if err != nil {
			return "", false, err
		}
		if vrt != nil && slices.Contains(vrt.sourceRels(rel), tif) {
			return rel, true, nil
		}
	}
	return "", false, nil
}

func folderPrefix(res storage.Resource, folder string) string {
	if folder == "" {
		return res.Prefix(storage.TreeContents)
	}
	return res.Content(folder) + "/"
}

// readVRT returns nil for a missing or malformed VRT; only storage failures
// are errors.
func readVRT(ctx context.Context, store storage.Store, res storage.Resource, rel string) (*vrtDataset, error) {
	data, err := store.Get(ctx, res.Content(rel))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	vrt, err := parseVRT(data)
	if err != nil {
		return nil, nil
	}
	return vrt, nil
}

func (r *rasterObject) ExtractMetadata(ctx context.Context) (map[string]any, error) {
	full := r.path.Content(r.primary)
	data, err := r.env.store.Get(ctx, full)
	if err != nil {
		return nil, extractionError(types.ContentTypeRaster, full, err)
	}

	var g *grid
	if ext(r.primary) == ".vrt" {
		var vrt *vrtDataset
		if vrt, err = parseVRT(data); err == nil {
			g, err = vrt.grid()
		}
	} else {
		g, err = tiffGrid(data)
	}
	if err != nil {
		return nil, extractionError(types.ContentTypeRaster, full, err)
	}

	if err := r.applySidecars(ctx, g); err != nil {
		return nil, err
	}
	return g.fields(), nil
}

// applySidecars fills georeferencing the raster itself lacks from the world
// file and .prj next to it.
func (r *rasterObject) applySidecars(ctx context.Context, g *grid) error {
	stem := strings.TrimSuffix(r.primary, path.Ext(r.primary))
	if !g.georef {
		if data, err := r.sidecar(ctx, stem, ".tfw"); err != nil {
			return err
		} else if data != nil {
			g.applyWorldFile(data)
		}
	}
	if g.crs == (crs{}) {
		if data, err := r.sidecar(ctx, stem, ".prj"); err != nil {
			return err
		} else if data != nil {
			g.crs = parseCRS(string(data))
		}
	}
	return nil
}

func (r *rasterObject) sidecar(ctx context.Context, stem, extension string) ([]byte, error) {
	rel, ok, err := findCompanion(ctx, r.env.store, r.path.Resource, stem, extension)
	if err != nil || !ok {
		return nil, err
	}
	data, err := r.env.store.Get(ctx, r.path.Content(rel))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// grid is the common raster description of GeoTIFF and VRT files.
type grid struct {
	cols, rows int
	georef     bool
	// x0/y0 is the upper left corner; sx/sy are positive cell sizes.
	x0, y0, sx, sy float64
	crs            crs
	dataType       string
	bands          []map[string]any
}

func (g *grid) fields() map[string]any {
	cell := map[string]any{
		"rows":    g.rows,
		"columns": g.cols,
	}
	if g.dataType != "" {
		cell["cellDataType"] = g.dataType
	}
	out := map[string]any{
		"bandCount":       len(g.bands),
		"bandInformation": g.bands,
		"cellInformation": cell,
	}
	if g.georef {
		cell["cellSizeXValue"] = g.sx
		cell["cellSizeYValue"] = g.sy
		var box extent
		box.add(g.x0, g.y0)
		box.add(g.x0+float64(g.cols)*g.sx, g.y0-float64(g.rows)*g.sy)
		if !box.empty() {
			cov := box.coverage()
			g.crs.fields(cov)
			out["spatialCoverage"] = cov
		}
	}
	return out
}

// applyWorldFile reads the six-line world file (A D B E C F), which
// references cell centers.
func (g *grid) applyWorldFile(data []byte) {
	lines := strings.Fields(string(data))
	if len(lines) < 6 {
		return
	}
	var v [6]float64
	for i := range v {
		f, err := strconv.ParseFloat(lines[i], 64)
		if err != nil || !finite(f) {
			return
		}
		v[i] = f
	}
	g.sx, g.sy = v[0], -v[3]
	g.x0, g.y0 = v[4]-v[0]/2, v[5]-v[3]/2
	g.georef = g.sx != 0 && g.sy != 0
}

func tiffGrid(data []byte) (*grid, error) {
	tf, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid tiff: %w", err)
	}
	if len(tf.Dirs) == 0 {
		return nil, errors.New("tiff has no image directory")
	}

	tags := make(map[uint16][]float64)
	var noData string
	for _, tag := range tf.Dirs[0].Tags {
		if tag.Id == tagGDALNoData {
			noData, _ = tag.StringVal()
			noData = strings.TrimRight(noData, "\x00 ")
			continue
		}
		tags[tag.Id] = tagNumbers(tag)
	}

	first := func(id uint16, def float64) float64 {
		if v := tags[id]; len(v) > 0 {
			return v[0]
		}
		return def
	}

	g := &grid{
		cols: int(first(tagImageWidth, 0)),
		rows: int(first(tagImageLength, 0)),
	}
	if g.cols <= 0 || g.rows <= 0 {
		return nil, errors.New("tiff has no image dimensions")
	}
	g.dataType = cellDataType(int(first(tagBitsPerSample, 1)), int(first(tagSampleFormat, 1)))

	samples := int(first(tagSamplesPerPixel, 1))
	for i := 1; i <= samples; i++ {
		band := map[string]any{
			"name":         fmt.Sprintf("Band_%d", i),
			"cellDataType": g.dataType,
		}
		if noData != "" {
			band["noDataValue"] = noData
		}
		g.bands = append(g.bands, band)
	}

	scale, tie := tags[tagModelPixelScale], tags[tagModelTiepoint]
	switch m := tags[tagModelTransform]; {
	case len(scale) >= 2 && len(tie) >= 6:
		g.sx, g.sy = scale[0], scale[1]
		g.x0 = tie[3] - tie[0]*g.sx
		g.y0 = tie[4] + tie[1]*g.sy
		g.georef = true
	case len(m) >= 16:
		g.sx, g.sy = m[0], -m[5]
		g.x0, g.y0 = m[3], m[7]
		g.georef = true
	}

	if code := geoKeyEPSG(tags[tagGeoKeyDirectory]); code != 0 {
		g.crs = crs{Name: "EPSG:" + strconv.Itoa(code), EPSG: code}
	}
	return g, nil
}

func tagNumbers(tag *tiff.Tag) []float64 {
	out := make([]float64, 0, tag.Count)
	for i := 0; i < int(tag.Count); i++ {
		if v, err := tag.Int64(i); err == nil {
			out = append(out, float64(v))
			continue
		}
		if v, err := tag.Float(i); err == nil {
			out = append(out, v)
			continue
		}
		if num, den, err := tag.Rat2(i); err == nil && den != 0 {
			out = append(out, float64(num)/float64(den))
			continue
		}
		break
	}
	return out
}

// geoKeyEPSG reads the GeoKeyDirectory: a 4 value header followed by
// (key, location, count, value) entries. Only inline values are used.
func geoKeyEPSG(keys []float64) int {
	if len(keys) < 4 {
		return 0
	}
	var projected, geographic int
	n := int(keys[3])
	for i := 0; i < n && 8+i*4 <= len(keys); i++ {
		entry := keys[4+i*4 : 8+i*4]
		if entry[1] != 0 {
			continue
		}
		value := int(entry[3])
		if value <= 0 || value == geoKeyUserDefined {
			continue
		}
		switch int(entry[0]) {
		case geoKeyProjectedType:
			projected = value
		case geoKeyGeographicType:
			geographic = value
		}
	}
	if projected != 0 {
		return projected
	}
	return geographic
}

func cellDataType(bits, format int) string {
	switch format {
	case 2:
		return fmt.Sprintf("Int%d", bits)
	case 3:
		return fmt.Sprintf("Float%d", bits)
	}
	if bits == 8 {
		return "Byte"
	}
	return fmt.Sprintf("UInt%d", bits)
}

type vrtDataset struct {
	XMLName      xml.Name  `xml:"VRTDataset"`
	XSize        int       `xml:"rasterXSize,attr"`
	YSize        int       `xml:"rasterYSize,attr"`
	SRS          string    `xml:"SRS"`
	GeoTransform string    `xml:"GeoTransform"`
	Bands        []vrtBand `xml:"VRTRasterBand"`
}

type vrtBand struct {
	Band        int         `xml:"band,attr"`
	DataType    string      `xml:"dataType,attr"`
	NoData      string      `xml:"NoDataValue"`
	Description string      `xml:"Description"`
	Sources     []vrtSource `xml:",any"`
}

// vrtSource is any band child; only those with a SourceFilename are sources.
type vrtSource struct {
	XMLName  xml.Name
	Filename struct {
		RelativeToVRT int    `xml:"relativeToVRT,attr"`
		Name          string `xml:",chardata"`
	} `xml:"SourceFilename"`
}

func parseVRT(data []byte) (*vrtDataset, error) {
	var vrt vrtDataset
	if err := xml.Unmarshal(data, &vrt); err != nil {
		return nil, fmt.Errorf("invalid vrt: %w", err)
	}
	return &vrt, nil
}

// sourceRels resolves the relative sources of the VRT at rel to contents
// paths. Absolute sources and sources outside the resource are skipped.
func (v *vrtDataset) sourceRels(rel string) []string {
	var out []string
	for _, band := range v.Bands {
		for _, src := range band.Sources {
			name := strings.TrimSpace(src.Filename.Name)
			if name == "" || src.Filename.RelativeToVRT != 1 {
				continue
			}
			resolved := path.Clean(path.Join(path.Dir(rel), name))
			if resolved == ".." || strings.HasPrefix(resolved, "../") || path.IsAbs(resolved) {
				continue
			}
			if !slices.Contains(out, resolved) {
				out = append(out, resolved)
			}
		}
	}
	slices.Sort(out)
	return out
}

func (v *vrtDataset) grid() (*grid, error) {
	if v.XSize <= 0 || v.YSize <= 0 {
		return nil, errors.New("vrt has no raster size")
	}
	g := &grid{cols: v.XSize, rows: v.YSize}
	if v.SRS != "" {
		g.crs = parseCRS(v.SRS)
	}

	parts := strings.Split(v.GeoTransform, ",")
	if len(parts) == 6 {
		var gt [6]float64
		ok := true
		for i, s := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil || !finite(f) {
				ok = false
				break
			}
			gt[i] = f
		}
		if ok {
			g.x0, g.sx, g.y0, g.sy = gt[0], gt[1], gt[3], -gt[5]
			g.georef = g.sx != 0 && g.sy != 0
		}
	}

	for i, b := range v.Bands {
		n := b.Band
		if n == 0 {
			n = i + 1
		}
		band := map[string]any{"name": fmt.Sprintf("Band_%d", n)}
		if b.DataType != "" {
			band["cellDataType"] = b.DataType
			if g.dataType == "" {
				g.dataType = b.DataType
			}
		}
		if nd := strings.TrimSpace(b.NoData); nd != "" {
			band["noDataValue"] = nd
		}
		if d := strings.TrimSpace(b.Description); d != "" {
			band["description"] = d
		}
		g.bands = append(g.bands, band)
	}
	return g, nil
}
