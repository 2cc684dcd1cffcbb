package render

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

// Mesh is the externally built globe geometry: a bound vertex array
// with positions and normals, drawn with indexed triangles.
type Mesh struct {
	VAO        uint32
	IndexCount int32
}

// Renderer draws the globe mesh with the tile pool and indirection
// tables bound. Must be created and used on the GL thread.
type Renderer struct {
	program     uint32
	coordinator *Coordinator
	log         *zap.Logger

	// dummy 1x1 index texture bound to unused indirection samplers so
	// every sampler uniform has a valid integer texture behind it.
	dummyIndex uint32

	uModel, uView, uProjection     int32
	uTilePool                      int32
	uIndirection                   [FallbackLevels]int32
	uIndirectionOffset             [FallbackLevels]int32
	uIndirectionSize               [FallbackLevels]int32
	uZoomLevel, uNumFallbackLevels int32
	uDiagnosticMode                int32
	uLightDir, uBaseColor          int32
}

// NewRenderer compiles the globe program and allocates the dummy
// textures.
func NewRenderer(coordinator *Coordinator, log *zap.Logger) (*Renderer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	program, err := linkProgram(globeVertexShader, globeFragmentShader)
	if err != nil {
		return nil, err
	}
	r := &Renderer{program: program, coordinator: coordinator, log: log}

	r.uModel = gl.GetUniformLocation(program, gl.Str("uModel\x00"))
	r.uView = gl.GetUniformLocation(program, gl.Str("uView\x00"))
	r.uProjection = gl.GetUniformLocation(program, gl.Str("uProjection\x00"))
	r.uTilePool = gl.GetUniformLocation(program, gl.Str("uTilePool\x00"))
	for i := 0; i < FallbackLevels; i++ {
		r.uIndirection[i] = gl.GetUniformLocation(program,
			gl.Str(fmt.Sprintf("uIndirection%d\x00", i)))
		r.uIndirectionOffset[i] = gl.GetUniformLocation(program,
			gl.Str(fmt.Sprintf("uIndirectionOffset[%d]\x00", i)))
		r.uIndirectionSize[i] = gl.GetUniformLocation(program,
			gl.Str(fmt.Sprintf("uIndirectionSize[%d]\x00", i)))
	}
	r.uZoomLevel = gl.GetUniformLocation(program, gl.Str("uZoomLevel\x00"))
	r.uNumFallbackLevels = gl.GetUniformLocation(program, gl.Str("uNumFallbackLevels\x00"))
	r.uDiagnosticMode = gl.GetUniformLocation(program, gl.Str("uDiagnosticMode\x00"))
	r.uLightDir = gl.GetUniformLocation(program, gl.Str("uLightDir\x00"))
	r.uBaseColor = gl.GetUniformLocation(program, gl.Str("uBaseColor\x00"))

	gl.GenTextures(1, &r.dummyIndex)
	gl.BindTexture(gl.TEXTURE_2D, r.dummyIndex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	invalid := []uint16{0xFFFF}
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.R16UI, 1, 1, 0,
		gl.RED_INTEGER, gl.UNSIGNED_SHORT, gl.Ptr(invalid))
	if errCode := gl.GetError(); errCode != gl.NO_ERROR {
		return nil, fmt.Errorf("allocating dummy index texture: GL error 0x%04x", errCode)
	}
	return r, nil
}

// FrameParams configures one draw.
type FrameParams struct {
	Zoom        int32
	Diagnostics bool
	LightDir    mgl32.Vec3
	BaseColor   mgl32.Vec3
	Model       mgl64.Mat4
}

// Draw binds the pool and indirection textures and renders the mesh.
func (r *Renderer) Draw(cam Camera, mesh Mesh, p FrameParams) error {
	gl.UseProgram(r.program)

	model := p.Model
	if model == (mgl64.Mat4{}) {
		model = mgl64.Ident4()
	}
	setMat4(r.uModel, model)
	setMat4(r.uView, cam.View)
	setMat4(r.uProjection, cam.Projection)

	poolTex, levels := r.coordinator.Handles(p.Zoom)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, poolTex)
	gl.Uniform1i(r.uTilePool, 0)

	numLevels := int32(0)
	for i := 0; i < FallbackLevels; i++ {
		gl.ActiveTexture(gl.TEXTURE1 + uint32(i))
		if levels[i].Valid {
			gl.BindTexture(gl.TEXTURE_2D, levels[i].Texture)
			gl.Uniform2i(r.uIndirectionOffset[i], levels[i].OffsetX, levels[i].OffsetY)
			gl.Uniform1i(r.uIndirectionSize[i], levels[i].WindowSize)
			numLevels = int32(i) + 1
		} else {
			gl.BindTexture(gl.TEXTURE_2D, r.dummyIndex)
			gl.Uniform2i(r.uIndirectionOffset[i], 0, 0)
			gl.Uniform1i(r.uIndirectionSize[i], 1)
		}
		gl.Uniform1i(r.uIndirection[i], int32(1+i))
	}

	gl.Uniform1i(r.uZoomLevel, p.Zoom)
	gl.Uniform1i(r.uNumFallbackLevels, numLevels)
	diag := int32(0)
	if p.Diagnostics {
		diag = 1
	}
	gl.Uniform1i(r.uDiagnosticMode, diag)
	light := p.LightDir
	if light == (mgl32.Vec3{}) {
		light = mgl32.Vec3{-0.4, -0.6, -0.7}
	}
	gl.Uniform3f(r.uLightDir, light.X(), light.Y(), light.Z())
	base := p.BaseColor
	if base == (mgl32.Vec3{}) {
		base = mgl32.Vec3{0.16, 0.24, 0.35}
	}
	gl.Uniform3f(r.uBaseColor, base.X(), base.Y(), base.Z())

	gl.BindVertexArray(mesh.VAO)
	gl.DrawElements(gl.TRIANGLES, mesh.IndexCount, gl.UNSIGNED_INT, gl.PtrOffset(0))
	gl.BindVertexArray(0)

	if errCode := gl.GetError(); errCode != gl.NO_ERROR {
		return fmt.Errorf("drawing globe: GL error 0x%04x", errCode)
	}
	return nil
}

// Destroy releases the program and dummy textures.
func (r *Renderer) Destroy() {
	gl.DeleteProgram(r.program)
	gl.DeleteTextures(1, &r.dummyIndex)
}

func setMat4(loc int32, m mgl64.Mat4) {
	var f [16]float32
	for i := 0; i < 16; i++ {
		f[i] = float32(m[i])
	}
	gl.UniformMatrix4fv(loc, 1, false, &f[0])
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source)
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)
	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		infoLog := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(infoLog))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("compiling shader: %s", infoLog)
	}
	return shader, nil
}

func linkProgram(vertexSource, fragmentSource string) (uint32, error) {
	vertex, err := compileShader(vertexSource, gl.VERTEX_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vertex)
	fragment, err := compileShader(fragmentSource, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fragment)

	program := gl.CreateProgram()
	gl.AttachShader(program, vertex)
	gl.AttachShader(program, fragment)
	gl.LinkProgram(program)
	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		infoLog := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(infoLog))
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("linking program: %s", infoLog)
	}
	return program, nil
}
