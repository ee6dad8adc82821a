package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tileseam/internal/geometry"
	"tileseam/internal/raster"
	"tileseam/internal/tiles"
	"tileseam/internal/types"
)

// Options configures a Preprocessor. Nil collaborators fall back to the
// defaults; SuperResolver is required.
type Options struct {
	Params        geometry.Params
	MedianLimit   int
	Compositor    Compositor
	Smoother      Smoother
	Clouds        CloudDetector
	SuperResolver SuperResolver
	Logger        *slog.Logger
}

// Preprocessor builds model tensors for subtile windows. It is safe for
// concurrent use if its collaborators are.
type Preprocessor struct {
	params      geometry.Params
	medianLimit int
	compositor  Compositor
	smoother    Smoother
	clouds      CloudDetector
	superres    SuperResolver
	logger      *slog.Logger
}

func New(opts Options) (*Preprocessor, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.SuperResolver == nil {
		return nil, fmt.Errorf("preprocess: superresolver is required")
	}
	p := &Preprocessor{
		params:      opts.Params,
		medianLimit: opts.MedianLimit,
		compositor:  opts.Compositor,
		smoother:    opts.Smoother,
		clouds:      opts.Clouds,
		superres:    opts.SuperResolver,
		logger:      opts.Logger,
	}
	if p.medianLimit <= 0 {
		p.medianLimit = 5
	}
	if p.compositor == nil {
		p.compositor = LinearCompositor{}
	}
	if p.smoother == nil {
		p.smoother = DefaultSmoother()
	}
	if p.clouds == nil {
		p.clouds = DefaultCloudDetector()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Prepared is a window ready for inference. A NoData window carries no
// tensor and is predicted as all no-data.
type Prepared struct {
	Window      geometry.Window
	Tensor      *raster.Cube
	UsableDates int
	NoData      bool
}

// Prepare builds the model tensor for one planned window.
func (p *Preprocessor) Prepare(ctx context.Context, obs *tiles.Observations, sp SubtilePlan) (*Prepared, error) {
	out := &Prepared{Window: sp.Window, UsableDates: len(sp.Screening.Kept), NoData: sp.NoData}
	if sp.NoData {
		return out, nil
	}

	sub, err := Cut(obs, sp.Window)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodePairShapeMismatch, "cut window", err)
	}
	refl, err := sub.Reflectance.SelectDates(sp.Screening.Kept)
	if err != nil {
		return nil, err
	}
	composite, err := p.compositor.Composite(refl, sp.Screening.Dates)
	if errors.Is(err, ErrNoImages) {
		out.NoData = true
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("composite window %d: %w", sp.Window.Row, err)
	}

	radar, dem := sub.Radar, sub.DEM
	if top, bottom := sp.Window.PadTop, sp.Window.PadBottom; top > 0 || bottom > 0 {
		if composite, err = composite.ReflectPadRows(top, bottom); err != nil {
			return nil, err
		}
		if radar, err = radar.ReflectPadRows(top, bottom); err != nil {
			return nil, err
		}
		if dem, err = dem.ReflectPadRows(top, bottom); err != nil {
			return nil, err
		}
	}

	smoothed, err := p.smoother.Smooth(composite)
	if err != nil {
		return nil, fmt.Errorf("smooth window %d: %w", sp.Window.Row, err)
	}
	resolved, err := superresolve(ctx, p.superres, smoothed)
	if err != nil {
		return nil, err
	}
	if out.Tensor, err = assemble(resolved, dem, radar); err != nil {
		return nil, err
	}
	return out, nil
}
