package render

// Globe shaders. The fragment shader resolves each fragment through
// the indirection tables, walking up to FallbackLevels coarser zoom
// levels until it finds a resident tile. Sampler arrays are indexed
// with constant expressions only, so the five indirection samplers are
// separate uniforms.

const globeVertexShader = `#version 330 core
layout(location = 0) in vec3 aPosition;
layout(location = 1) in vec3 aNormal;

uniform mat4 uModel;
uniform mat4 uView;
uniform mat4 uProjection;

out vec3 vWorldPos;
out vec3 vNormal;

void main() {
    vec4 world = uModel * vec4(aPosition, 1.0);
    vWorldPos = world.xyz;
    vNormal = mat3(uModel) * aNormal;
    gl_Position = uProjection * uView * world;
}
` + "\x00"

const globeFragmentShader = `#version 330 core
in vec3 vWorldPos;
in vec3 vNormal;

out vec4 fragColor;

uniform sampler2DArray uTilePool;
uniform usampler2D uIndirection0;
uniform usampler2D uIndirection1;
uniform usampler2D uIndirection2;
uniform usampler2D uIndirection3;
uniform usampler2D uIndirection4;
uniform ivec2 uIndirectionOffset[5];
uniform int uIndirectionSize[5];
uniform int uZoomLevel;
uniform int uNumFallbackLevels;
uniform int uDiagnosticMode;
uniform vec3 uLightDir;
uniform vec3 uBaseColor;

const float PI = 3.14159265358979;
const uint INVALID_LAYER = 65535u;
// atan(sinh(PI)), the Web Mercator latitude limit in radians.
const float MAX_LAT = 1.4844222297453324;

const vec3 DIAG_TINTS[5] = vec3[5](
    vec3(0.2, 0.9, 0.2),
    vec3(0.9, 0.9, 0.2),
    vec3(0.9, 0.6, 0.2),
    vec3(0.9, 0.3, 0.2),
    vec3(0.9, 0.1, 0.1));

uint lookupLayer(int level, ivec2 texel) {
    switch (level) {
    case 0: return texelFetch(uIndirection0, texel, 0).r;
    case 1: return texelFetch(uIndirection1, texel, 0).r;
    case 2: return texelFetch(uIndirection2, texel, 0).r;
    case 3: return texelFetch(uIndirection3, texel, 0).r;
    default: return texelFetch(uIndirection4, texel, 0).r;
    }
}

vec3 shade(vec3 color) {
    float light = max(dot(normalize(vNormal), -normalize(uLightDir)), 0.0);
    return color * (0.35 + 0.65 * light);
}

void main() {
    vec3 n = normalize(vWorldPos);
    float lat = asin(clamp(n.y, -1.0, 1.0));
    float lon = atan(n.x, n.z);

    // Normalized slippy-plane coordinates in [0,1).
    float latM = clamp(lat, -MAX_LAT, MAX_LAT);
    float nx = (lon / PI + 1.0) * 0.5;
    float ny = (1.0 - asinh(tan(latM)) / PI) * 0.5;

    for (int level = 0; level < 5; ++level) {
        if (level >= uNumFallbackLevels) {
            break;
        }
        int z = uZoomLevel - level;
        if (z < 0) {
            break;
        }
        // Scale the normalized coordinate and subtract the floor;
        // fract(nx * scale) loses sub-texel accuracy at deep zoom.
        float scale = float(1 << z);
        float sx = nx * scale;
        float sy = ny * scale;
        float fx = floor(sx);
        float fy = floor(sy);
        ivec2 texel = ivec2(int(fx), int(fy)) - uIndirectionOffset[level];
        if (texel.x < 0 || texel.y < 0 ||
            texel.x >= uIndirectionSize[level] || texel.y >= uIndirectionSize[level]) {
            continue;
        }
        uint layer = lookupLayer(level, texel);
        if (layer == INVALID_LAYER) {
            continue;
        }
        // Half-texel inset keeps linear filtering from bleeding into
        // neighboring tiles.
        float inset = 0.5 / 256.0;
        vec2 uv = clamp(vec2(sx - fx, sy - fy), vec2(inset), vec2(1.0 - inset));
        vec3 color = texture(uTilePool, vec3(uv, float(layer))).rgb;
        if (uDiagnosticMode == 1) {
            color = mix(color, DIAG_TINTS[level], 0.5);
        }
        fragColor = vec4(shade(color), 1.0);
        return;
    }
    fragColor = vec4(shade(uBaseColor), 1.0);
}
` + "\x00"
