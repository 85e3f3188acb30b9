package eo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/paulmach/orb"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/option/internaloption"
	htransport "google.golang.org/api/transport/http"
)

const (
	sentinel2Collection  = "COPERNICUS/S2_SR_HARMONIZED"
	cloudScoreCollection = "GOOGLE/CLOUD_SCORE_PLUS/V1/S2_HARMONIZED"
	demCollection        = "COPERNICUS/DEM/GLO30"

	// Pixels with a Cloud Score+ "cs" below this are treated as cloudy.
	clearThreshold   = 0.5
	reflectanceScale = 0.0001
	targetCRS        = "EPSG:3857"
	demScaleMeters   = 30

	mappingVar  = "_MAPPING_VAR_0_0"
	samplesPage = 1000

	defaultEndpoint  = "https://earthengine.googleapis.com/"
	endpointTmpl     = "https://earthengine.UNIVERSE_DOMAIN/"
	scopeEarthEngine = "https://www.googleapis.com/auth/earthengine"
	scopeCloud       = "https://www.googleapis.com/auth/cloud-platform"
)

// EarthEngineSource builds yearly Sentinel-2 composites and samples them
// through the Earth Engine REST API. Composites are lazy expression graphs;
// nothing runs server-side until Sample.
type EarthEngineSource struct {
	client      *http.Client
	endpoint    string
	parent      string
	scaleMeters int
}

// eeImage is the Image produced by EarthEngineSource.
type eeImage struct {
	g      *graph
	image  *valueNode
	region *valueNode
	year   int
}

// NewEarthEngineSource connects to Earth Engine on behalf of a cloud project.
func NewEarthEngineSource(ctx context.Context, project string, scaleMeters int, opts ...option.ClientOption) (*EarthEngineSource, error) {
	if project == "" {
		return nil, errors.New("earth engine project is required")
	}
	opts = append([]option.ClientOption{
		internaloption.WithDefaultEndpoint(defaultEndpoint),
		internaloption.WithDefaultEndpointTemplate(endpointTmpl),
		internaloption.WithDefaultScopes(scopeEarthEngine, scopeCloud),
	}, opts...)
	client, endpoint, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create earth engine client: %w", err)
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &EarthEngineSource{
		client:      client,
		endpoint:    strings.TrimSuffix(endpoint, "/") + "/",
		parent:      "projects/" + project,
		scaleMeters: scaleMeters,
	}, nil
}

// CompositeImage builds the cloud-masked median composite for year with
// spectral indices, elevation and slope, reprojected to the sampling grid.
func (s *EarthEngineSource) CompositeImage(_ context.Context, aoi orb.Polygon, year int) (Image, error) {
	g := newGraph()
	region := g.call("GeometryConstructors.Polygon", map[string]*valueNode{
		"coordinates": constant(polygonCoordinates(aoi)),
		"evenOdd":     constant(true),
	})
	start := fmt.Sprintf("%d-01-01", year)
	end := fmt.Sprintf("%d-01-01", year+1)

	scores := g.filterDate(g.filterBounds(g.load(cloudScoreCollection), region), start, end)
	scenes := g.filterDate(g.filterBounds(g.load(sentinel2Collection), region), start, end)
	prepared := g.mapImages(scenes, mappingVar, g.prepareScene(argRef(mappingVar), scores))

	composite := g.call("reduce.median", map[string]*valueNode{"collection": prepared})

	stack := g.addBands(composite, g.terrain(region))
	stack = g.call("Image.reproject", map[string]*valueNode{
		"image": stack,
		"crs":   g.projection(targetCRS),
		"scale": constant(s.scaleMeters),
	})
	stack = g.call("Image.clip", map[string]*valueNode{
		"input":    stack,
		"geometry": region,
	})

	return &eeImage{g: g, image: stack, region: region, year: year}, nil
}

// prepareScene masks cloudy pixels, scales reflectance and appends indices.
func (g *graph) prepareScene(img, scores *valueNode) *valueNode {
	linked := g.call("Image.linkCollection", map[string]*valueNode{
		"input":           img,
		"imageCollection": scores,
		"linkedBands":     constant([]string{"cs"}),
	})
	clear := g.call("Image.gte", map[string]*valueNode{
		"image1": g.selectBands(linked, "cs"),
		"image2": g.constantImage(clearThreshold),
	})
	masked := g.call("Image.updateMask", map[string]*valueNode{
		"image": linked,
		"mask":  clear,
	})
	scaled := g.call("Image.multiply", map[string]*valueNode{
		"image1": g.selectBands(masked, "B.*"),
		"image2": g.constantImage(reflectanceScale),
	})
	return g.indices(scaled)
}

func (g *graph) indices(img *valueNode) *valueNode {
	nd := func(a, b, name string) *valueNode {
		return g.rename(g.call("Image.normalizedDifference", map[string]*valueNode{
			"input":     img,
			"bandNames": constant([]string{a, b}),
		}), name)
	}
	expr := func(expression, name string, bands map[string]string) *valueNode {
		vars := make(map[string]*valueNode, len(bands))
		for v, band := range bands {
			vars[v] = g.selectBands(img, band)
		}
		return g.rename(g.call("Image.expression", map[string]*valueNode{
			"expression": constant(expression),
			"map":        g.dict(vars),
		}), name)
	}

	out := g.addBands(img, nd("B8", "B4", "ndvi"))
	out = g.addBands(out, nd("B3", "B11", "mndwi"))
	out = g.addBands(out, nd("B11", "B8", "ndbi"))
	out = g.addBands(out, expr("2.5 * ((NIR - RED) / (NIR + 6 * RED - 7.5 * BLUE + 1))", "evi",
		map[string]string{"NIR": "B8", "RED": "B4", "BLUE": "B2"}))
	out = g.addBands(out, expr("((SWIR + RED) - (NIR + BLUE)) / ((SWIR + RED) + (NIR + BLUE))", "bsi",
		map[string]string{"SWIR": "B11", "RED": "B4", "NIR": "B8", "BLUE": "B2"}))
	return out
}

// terrain returns the GLO-30 elevation mosaic and its slope as "dem" and "slope".
func (g *graph) terrain(region *valueNode) *valueNode {
	mosaic := g.call("ImageCollection.mosaic", map[string]*valueNode{
		"collection": g.filterBounds(g.load(demCollection), region),
	})
	dem := g.call("Image.setDefaultProjection", map[string]*valueNode{
		"image": g.rename(g.selectBands(mosaic, "DEM"), "dem"),
		"crs":   g.projection(targetCRS),
		"scale": constant(demScaleMeters),
	})
	slope := g.rename(g.call("Terrain.slope", map[string]*valueNode{"input": dem}), "slope")
	return g.addBands(dem, slope)
}

// Sample draws up to n random grid cells from a composite prepared by this
// source, following result pages until exhausted.
func (s *EarthEngineSource) Sample(ctx context.Context, img Image, n int) ([]Sample, error) {
	im, ok := img.(*eeImage)
	if !ok {
		return nil, fmt.Errorf("image %T was not prepared by earth engine", img)
	}
	g := im.g.clone()
	fc := g.call("Image.sample", map[string]*valueNode{
		"image":      im.image,
		"region":     im.region,
		"scale":      constant(s.scaleMeters),
		"numPixels":  constant(n),
		"seed":       constant(im.year),
		"dropNulls":  constant(true),
		"geometries": constant(false),
	})
	expr := g.serialize(fc)

	var samples []Sample
	pageToken := ""
	for {
		resp, err := s.computeFeatures(ctx, &computeFeaturesRequest{
			Expression: expr,
			PageSize:   samplesPage,
			PageToken:  pageToken,
		})
		if err != nil {
			return nil, fmt.Errorf("compute features: %w", err)
		}
		for _, f := range resp.Features {
			samples = append(samples, numericProperties(f.Properties))
		}
		if resp.NextPageToken == "" || len(samples) >= n {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(samples) > n {
		samples = samples[:n]
	}
	slog.Debug("sampled composite", "year", im.year, "samples", len(samples))
	return samples, nil
}

type computeFeaturesRequest struct {
	Expression *expression `json:"expression"`
	PageSize   int         `json:"pageSize,omitempty"`
	PageToken  string      `json:"pageToken,omitempty"`
}

type computeFeaturesResponse struct {
	Type     string `json:"type"`
	Features []struct {
		Properties map[string]any `json:"properties"`
	} `json:"features"`
	NextPageToken string `json:"nextPageToken"`
}

// computeFeatures posts one page request to projects.table.computeFeatures.
func (s *EarthEngineSource) computeFeatures(ctx context.Context, body *computeFeaturesRequest) (*computeFeaturesResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := s.endpoint + "v1/" + s.parent + "/table:computeFeatures"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer googleapi.CloseBody(res)
	if err := googleapi.CheckResponse(res); err != nil {
		return nil, err
	}

	var out computeFeaturesResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// numericProperties keeps a feature's numeric properties. Non-numeric
// values are ignored.
func numericProperties(props map[string]any) Sample {
	sample := make(Sample, len(props))
	for k, v := range props {
		if f, ok := v.(float64); ok {
			sample[k] = f
		}
	}
	return sample
}

func polygonCoordinates(p orb.Polygon) [][][]float64 {
	rings := make([][][]float64, len(p))
	for i, ring := range p {
		coords := make([][]float64, len(ring))
		for j, pt := range ring {
			coords[j] = []float64{pt.Lon(), pt.Lat()}
		}
		rings[i] = coords
	}
	return rings
}
