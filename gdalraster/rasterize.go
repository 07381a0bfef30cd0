package gdalraster

import (
	"context"
	"fmt"
	"strconv"

	"github.com/airbusgeo/godal"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/rasterize"
)

// Rasterizer burns shard CSV files into single-band GeoTIFFs with GDAL's
// rasterize utility. The CSV driver reads the geometry from the "WKT" column.
type Rasterizer struct{}

// Rasterize implements rasterize.Engine.
func (Rasterizer) Rasterize(ctx context.Context, job rasterize.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	register()

	src, err := godal.Open(job.Src, godal.VectorOnly())
	if err != nil {
		return fmt.Errorf("open %s: %w", job.Src, err)
	}
	defer src.Close()

	out, err := src.Rasterize(job.Dst, Switches(job))
	if err != nil {
		return fmt.Errorf("rasterize %s: %w", job.Src, err)
	}
	return out.Close()
}

// Switches returns the gdal_rasterize arguments for a job.
func Switches(job rasterize.Job) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	res := f(job.Resolution)
	block := strconv.Itoa(job.BlockSize)

	sw := []string{
		"-of", "GTiff",
		"-ot", "Byte",
		"-a_nodata", strconv.Itoa(int(job.NoData)),
		"-init", strconv.Itoa(int(job.NoData)),
		"-burn", strconv.Itoa(int(job.Burn)),
		"-tr", res, res,
		"-tap",
		"-a_srs", job.SRS,
		"-te", f(job.Bounds.Min[0]), f(job.Bounds.Min[1]), f(job.Bounds.Max[0]), f(job.Bounds.Max[1]),
		"-co", "TILED=YES",
		"-co", "BLOCKXSIZE=" + block,
		"-co", "BLOCKYSIZE=" + block,
	}
	if job.Compress != "" {
		sw = append(sw, "-co", "COMPRESS="+job.Compress)
	}
	return sw
}
