// Package calib provides coordinate frame names and camera calibration
// metadata scaled to the published image size.
package calib

import (
	"sync"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/smazurov/monocam/internal/device"
)

// Distortion model names.
const (
	ModelPlumbBob = "plumb_bob"
	ModelNone     = "none"
)

// Frames holds the coordinate frame ids of one camera.
type Frames struct {
	Link    string `json:"link"`
	Center  string `json:"center"`
	Optical string `json:"optical"`
	IMU     string `json:"imu"`
}

// FrameIDs derives frame ids from the camera name.
func FrameIDs(name string) Frames {
	return Frames{
		Link:    name + "_camera_link",
		Center:  name + "_camera_center",
		Optical: name + "_camera_optical_frame",
		IMU:     name + "_imu_link",
	}
}

// CameraInfo is the pinhole calibration for one output size.
// Matrices are row-major.
type CameraInfo struct {
	FrameID         string    `json:"frame_id"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	DistortionModel string    `json:"distortion_model"`
	D               []float64 `json:"d"`
	K               []float64 `json:"k"`
	R               []float64 `json:"r"`
	P               []float64 `json:"p"`
}

// Transform is a rigid transform between two frames.
type Transform struct {
	Parent      string      `json:"parent"`
	Child       string      `json:"child"`
	Translation r3.Vector   `json:"translation"`
	Rotation    quat.Number `json:"rotation"`
}

type infoKey struct {
	w, h      int
	rectified bool
}

// Provider answers calibration queries for one session.
type Provider struct {
	frames     Frames
	intrinsics device.Intrinsics
	camIMU     Transform

	mu    sync.Mutex
	cache map[infoKey]CameraInfo
}

// NewProvider builds a provider from the camera name and session info.
func NewProvider(name string, info device.SessionInfo) *Provider {
	frames := FrameIDs(name)
	rot := info.CamIMURotation
	if rot == (quat.Number{}) {
		rot = quat.Number{Real: 1}
	}
	return &Provider{
		frames:     frames,
		intrinsics: info.Intrinsics,
		camIMU: Transform{
			Parent:      frames.Link,
			Child:       frames.IMU,
			Translation: info.CamIMUTranslation,
			Rotation:    rot,
		},
		cache: make(map[infoKey]CameraInfo),
	}
}

// Frames returns the frame ids.
func (p *Provider) Frames() Frames {
	return p.frames
}

// CamIMU returns the camera to IMU transform.
func (p *Provider) CamIMU() Transform {
	return p.camIMU
}

// CameraInfo returns the calibration scaled to width x height. Rectified
// info carries no distortion.
func (p *Provider) CameraInfo(width, height int, rectified bool) CameraInfo {
	key := infoKey{width, height, rectified}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ci, ok := p.cache[key]; ok {
		return ci
	}
	ci := p.compute(width, height, rectified)
	p.cache[key] = ci
	return ci
}

func (p *Provider) compute(width, height int, rectified bool) CameraInfo {
	in := p.intrinsics
	sx, sy := 1.0, 1.0
	if in.Width > 0 && in.Height > 0 {
		sx = float64(width) / float64(in.Width)
		sy = float64(height) / float64(in.Height)
	}

	k := mat.NewDense(3, 3, []float64{
		in.Fx, 0, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	})
	s := mat.NewDiagDense(3, []float64{sx, sy, 1})

	var ks mat.Dense
	ks.Mul(s, k)

	var proj mat.Dense
	proj.Augment(&ks, mat.NewDense(3, 1, nil))

	ci := CameraInfo{
		FrameID:         p.frames.Optical,
		Width:           width,
		Height:          height,
		DistortionModel: ModelPlumbBob,
		K:               flatten(&ks),
		R:               flatten(identity3()),
		P:               flatten(&proj),
	}
	if rectified {
		ci.DistortionModel = ModelNone
		ci.D = make([]float64, 5)
	} else {
		ci.D = append([]float64(nil), in.Distortion...)
	}
	return ci
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func flatten(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
