package main

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/speakavatar/internal/avatar3d"
	"github.com/normanking/speakavatar/internal/bus"
	"github.com/normanking/speakavatar/internal/config"
	"github.com/normanking/speakavatar/internal/metrics"
	"github.com/normanking/speakavatar/internal/morph"
	"github.com/normanking/speakavatar/internal/renderer"
	"github.com/normanking/speakavatar/internal/viseme"
)

// Reasons reported when the procedural head replaces the asset.
const (
	fallbackNoModel     = "no_model"
	fallbackLoadFailed  = "load_failed"
	fallbackNoMorphs    = "no_morph_targets"
	fallbackNoDrawables = "no_drawable_mesh"
)

// head is what the frame loop drives and draws.
type head interface {
	renderer.Drawable
	frame(dt time.Duration, s viseme.Sampled, idle bool)
	upload()
	delete()
}

type morphHead struct {
	model  *renderer.Model
	avatar *avatar3d.Avatar
}

func (h *morphHead) Draw(s *renderer.Shader) int { return h.model.Draw(s) }
func (h *morphHead) upload()                     { h.model.Upload() }
func (h *morphHead) delete()                     { h.model.Delete() }

func (h *morphHead) frame(dt time.Duration, s viseme.Sampled, idle bool) {
	h.avatar.Frame(dt, s, idle)
}

type proceduralHead struct {
	model    *renderer.FallbackModel
	head     *avatar3d.FallbackHead
	maxDelta time.Duration
}

func (h *proceduralHead) Draw(s *renderer.Shader) int { return h.model.Draw(s) }
func (h *proceduralHead) upload()                     { h.model.Upload() }
func (h *proceduralHead) delete()                     { h.model.Delete() }

func (h *proceduralHead) frame(dt time.Duration, s viseme.Sampled, idle bool) {
	if h.maxDelta > 0 && dt > h.maxDelta {
		dt = h.maxDelta
	}
	h.model.Apply(h.head.Frame(dt, s, idle))
}

// loadedHead is the outcome of loading the avatar asset. Framing is nil when
// the camera should keep its default placement.
type loadedHead struct {
	head     head
	framing  *avatar3d.Framing
	fallback string
}

// loadHead opens the asset for the configured gender and binds its face mesh.
// Any failure falls back to the procedural head; the reason is logged,
// counted and published.
func loadHead(cfg *config.Config, eventBus *bus.EventBus, m *metrics.Metrics, logger zerolog.Logger) loadedHead {
	log := logger.With().Str("component", "asset").Logger()
	avatarCfg := cfg.Avatar
	path := avatarCfg.ModelPath()

	fallback := func(reason string, err error) loadedHead {
		ev := log.Warn().Str("path", path).Str("reason", reason)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("using procedural head")

		m.ResolverFallback.WithLabelValues(reason).Inc()
		eventBus.Publish(bus.Event{
			Type: bus.EventTypeAssetFallback,
			Data: map[string]any{"path": path, "reason": reason},
		})

		gender := avatar3d.ParseGender(avatarCfg.Gender)
		return loadedHead{
			head: &proceduralHead{
				model:    renderer.PlanFallback(gender),
				head:     avatar3d.NewFallbackHead(gender),
				maxDelta: cfg.Playback.MaxFrameDelta,
			},
			fallback: reason,
		}
	}

	if path == "" {
		return fallback(fallbackNoModel, nil)
	}

	scene, doc, err := morph.LoadScene(path)
	if err != nil {
		return fallback(fallbackLoadFailed, err)
	}

	binding, ok := morph.Resolve(scene.Candidates, avatarCfg.MorphMeshName)
	if !ok {
		return fallback(fallbackNoMorphs, morph.ErrNoMorphTargets)
	}

	model, err := renderer.PlanModel(doc, binding.Mesh.NodeIndex)
	if err != nil {
		return fallback(fallbackNoDrawables, err)
	}

	var rng *rand.Rand
	if avatarCfg.RandomSeed != 0 {
		rng = rand.New(rand.NewSource(avatarCfg.RandomSeed))
	}
	avatar := avatar3d.NewAvatar(binding, model, avatar3d.NewIdleLayer(rng))
	avatar.SetMaxDelta(cfg.Playback.MaxFrameDelta)

	out := loadedHead{head: &morphHead{model: model, avatar: avatar}}
	if avatarCfg.AutoFrameFace && scene.HasBounds {
		f := avatar3d.FrameFace(scene.Bounds)
		out.framing = &f
	}

	log.Info().
		Str("path", path).
		Str("mesh", binding.Mesh.Name).
		Int("channels", binding.ChannelCount()).
		Strs("labels", binding.Channels.Labels()).
		Int("score", binding.Score).
		Msg("avatar asset bound")

	eventBus.Publish(bus.Event{
		Type: bus.EventTypeAssetLoaded,
		Data: map[string]any{
			"path":     path,
			"mesh":     binding.Mesh.Name,
			"channels": binding.ChannelCount(),
			"labels":   binding.Channels.Labels(),
		},
	})
	return out
}
