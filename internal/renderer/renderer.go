package renderer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"

	"github.com/normanking/speakavatar/internal/config"
)

const (
	scrollZoomSpeed = 0.05
	msaaSamples     = 4
)

var clearColor = mgl32.Vec3{0.1, 0.1, 0.12}

// Drawable is anything the basic shader can draw: a loaded model or the
// procedural head. Draw returns the triangle count.
type Drawable interface {
	Draw(s *Shader) int
}

type Renderer struct {
	window *glfw.Window
	config config.WindowConfig
	logger zerolog.Logger

	basicShader *Shader
	watcher     *ShaderWatcher

	camera      *Camera
	lightingRig *LightingRig

	projectionMatrix mgl32.Mat4
	viewMatrix       mgl32.Mat4

	drawCalls int
	triangles int

	fbWidth, fbHeight int32
	resized           atomic.Bool
}

// New opens the window and compiles the shader. glfw.Init must already have
// run on the locked main thread.
func New(cfg config.WindowConfig, logger zerolog.Logger) (*Renderer, error) {
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.Samples, msaaSamples)

	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}
	window.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		window.Destroy()
		return nil, fmt.Errorf("gl init: %w", err)
	}

	if cfg.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}

	r := &Renderer{
		window:      window,
		config:      cfg,
		logger:      logger.With().Str("component", "renderer").Logger(),
		lightingRig: NewAvatarLighting(),
	}

	fbW, fbH := window.GetFramebufferSize()
	r.fbWidth, r.fbHeight = int32(fbW), int32(fbH)
	r.camera = NewPortraitCamera(aspect(fbW, fbH))

	if err := r.initShaders(); err != nil {
		window.Destroy()
		return nil, fmt.Errorf("init shaders: %w", err)
	}

	window.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		r.camera.Zoom(float32(yoff) * scrollZoomSpeed)
	})
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) {
		r.fbWidth, r.fbHeight = int32(w), int32(h)
		r.resized.Store(true)
	})

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LESS)
	gl.Enable(gl.MULTISAMPLE)

	r.logger.Info().
		Int("width", fbW).
		Int("height", fbH).
		Str("gl", gl.GoStr(gl.GetString(gl.VERSION))).
		Msg("renderer ready")

	return r, nil
}

// initShaders prefers basic.vert/basic.frag from the configured shader
// directory, watched for edits, and falls back to the built-in source.
func (r *Renderer) initShaders() error {
	if dir := r.config.ShaderDir; dir != "" {
		vert := filepath.Join(dir, "basic.vert")
		frag := filepath.Join(dir, "basic.frag")
		if _, err := os.Stat(vert); err == nil {
			s, err := NewShaderFromFiles(vert, frag)
			if err == nil {
				r.basicShader = s
				r.watchShader(s)
				return nil
			}
			r.logger.Warn().Err(err).Str("dir", dir).Msg("shader override failed, using built-in")
		}
	}

	s, err := NewShaderFromSource(basicVertSrc, basicFragSrc)
	if err != nil {
		return fmt.Errorf("basic shader: %w", err)
	}
	r.basicShader = s
	return nil
}

func (r *Renderer) watchShader(s *Shader) {
	w, err := NewShaderWatcher(r.logger)
	if err != nil {
		r.logger.Warn().Err(err).Msg("shader hot reload disabled")
		return
	}
	if err := w.Watch(s); err != nil {
		r.logger.Warn().Err(err).Msg("shader hot reload disabled")
		_ = w.Close()
		return
	}
	r.watcher = w
}

func aspect(w, h int) float32 {
	if h == 0 {
		return 1
	}
	return float32(w) / float32(h)
}

// BeginFrame applies pending resizes and shader reloads, clears the frame and
// binds the shader with camera and light uniforms.
func (r *Renderer) BeginFrame() *Shader {
	r.drawCalls = 0
	r.triangles = 0

	if r.resized.Swap(false) {
		r.camera.SetAspectRatio(aspect(int(r.fbWidth), int(r.fbHeight)))
	}
	gl.Viewport(0, 0, r.fbWidth, r.fbHeight)

	if r.watcher != nil && r.watcher.Pending() > 0 {
		r.watcher.ReloadPending()
	}

	gl.ClearColor(clearColor.X(), clearColor.Y(), clearColor.Z(), 1.0)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	r.projectionMatrix = r.camera.ProjectionMatrix()
	r.viewMatrix = r.camera.ViewMatrix()

	s := r.basicShader
	s.Use()
	s.SetMat4("uProjection", r.projectionMatrix)
	s.SetMat4("uView", r.viewMatrix)
	s.SetVec3("uCameraPos", r.camera.Position)
	r.lightingRig.SetLightUniforms(s)
	return s
}

// DrawModel draws d with the basic shader.
func (r *Renderer) DrawModel(d Drawable) {
	r.triangles += d.Draw(r.basicShader)
	r.drawCalls++
}

func (r *Renderer) Present() {
	r.window.SwapBuffers()
	glfw.PollEvents()
}

func (r *Renderer) ShouldClose() bool {
	return r.window.ShouldClose()
}

func (r *Renderer) GetStats() (drawCalls, triangles int) {
	return r.drawCalls, r.triangles
}

func (r *Renderer) Camera() *Camera {
	return r.camera
}

func (r *Renderer) Shutdown() {
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	r.basicShader.Delete()
	r.window.Destroy()
}

var basicVertSrc = `#version 410 core

layout(location = 0) in vec3 aPosition;
layout(location = 1) in vec3 aNormal;
layout(location = 2) in vec3 aColor;

out vec3 vPosition;
out vec3 vNormal;
out vec3 vColor;

uniform mat4 uModel;
uniform mat4 uView;
uniform mat4 uProjection;

void main() {
    vec4 worldPos = uModel * vec4(aPosition, 1.0);
    vPosition = worldPos.xyz;

    mat3 normalMatrix = transpose(inverse(mat3(uModel)));
    vNormal = normalize(normalMatrix * aNormal);
    vColor = aColor;

    gl_Position = uProjection * uView * worldPos;
}
` + "\x00"

var basicFragSrc = `#version 410 core

in vec3 vPosition;
in vec3 vNormal;
in vec3 vColor;

out vec4 FragColor;

uniform vec3 uCameraPos;

struct Light {
    vec3 position;
    vec3 direction;
    vec3 color;
    float intensity;
    int type;
};

#define MAX_LIGHTS 4
uniform Light uLights[MAX_LIGHTS];
uniform int uLightCount;
uniform vec3 uAmbientColor;

void main() {
    vec3 N = normalize(vNormal);
    vec3 V = normalize(uCameraPos - vPosition);

    vec3 Lo = vec3(0.0);

    for (int i = 0; i < uLightCount && i < MAX_LIGHTS; i++) {
        vec3 L;
        float attenuation = 1.0;
        if (uLights[i].type == 1) {
            L = normalize(-uLights[i].direction);
        } else {
            vec3 toLight = uLights[i].position - vPosition;
            L = normalize(toLight);
            attenuation = 1.0 / dot(toLight, toLight);
        }

        float NdotL = max(dot(N, L), 0.0);
        vec3 diffuse = vColor * NdotL;

        vec3 H = normalize(V + L);
        float spec = pow(max(dot(N, H), 0.0), 32.0);
        vec3 specular = vec3(0.15) * spec;

        Lo += (diffuse + specular) * uLights[i].color * uLights[i].intensity * attenuation;
    }

    FragColor = vec4(uAmbientColor * vColor + Lo, 1.0);
}
` + "\x00"
