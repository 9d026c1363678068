package camera

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/params"
)

// Parameter names.
const (
	ParamCameraName      = "general.camera_name"
	ParamCameraModel     = "general.camera_model"
	ParamSerialNumber    = "general.serial_number"
	ParamGrabResolution  = "general.grab_resolution"
	ParamGrabFrameRate   = "general.grab_frame_rate"
	ParamPubResolution   = "general.pub_resolution"
	ParamDownscaleFactor = "general.pub_downscale_factor"
	ParamCameraFlip      = "general.camera_flip"
	ParamEnableHDR       = "general.enable_hdr"
	ParamOpenTimeout     = "general.open_timeout_sec"
	ParamSDKVerbose      = "general.sdk_verbose"

	ParamInputSource    = "input.source"
	ParamReplayPath     = "input.replay_path"
	ParamReplayRealtime = "input.replay_realtime"
	ParamStreamAddress  = "input.stream_address"
	ParamStreamPort     = "input.stream_port"

	ParamGrabRetryWarn    = "acquisition.grab_retry_warn"
	ParamGrabRetryBackoff = "acquisition.grab_retry_backoff_ms"

	ParamTempPubPeriod = "sensors.temp_pub_period_sec"

	ParamFrameStale = "diagnostics.frame_stale_sec"
	ParamTempStale  = "diagnostics.temp_stale_sec"

	ParamDebugCommon    = "debug.common"
	ParamDebugVideo     = "debug.video"
	ParamDebugSensors   = "debug.sensors"
	ParamDebugStreaming = "debug.streaming"
)

// Output resolution modes.
const (
	PubNative = "NATIVE"
	PubCustom = "CUSTOM"
)

// Config holds the read-only settings fixed at startup.
type Config struct {
	CameraName  string
	Model       device.Model
	Serial      uint32
	Resolution  device.Resolution
	FrameRate   int
	HDR         bool
	OpenTimeout time.Duration
	SDKVerbose  int

	Source         device.Source
	ReplayPath     string
	ReplayRealtime bool
	StreamAddress  string
	StreamPort     int

	GrabRetryWarn    int
	GrabRetryBackoff time.Duration
	TempPubPeriod    time.Duration
	DrainTimeout     time.Duration
}

// DebugFlags enables verbose logging per subsystem.
type DebugFlags struct {
	Common    bool `json:"common"`
	Video     bool `json:"video"`
	Sensors   bool `json:"sensors"`
	Streaming bool `json:"streaming"`
}

// Dynamic holds the settings that may change at runtime.
type Dynamic struct {
	PubResolution   string
	DownscaleFactor float64
	Flip            bool
	FrameStale      time.Duration
	TempStale       time.Duration
	Debug           DebugFlags
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DeclareParameters declares every node parameter on store and returns the
// read-only configuration.
func DeclareParameters(store *params.Store) Config {
	resolutions := make([]any, len(device.Resolutions))
	for i, r := range device.Resolutions {
		resolutions[i] = r.Name
	}

	name := params.Declare(store, ParamCameraName, "zed_one", params.ReadOnly,
		params.Describe("camera name, used as topic root and frame id prefix"))
	model := params.Declare(store, ParamCameraModel, string(device.ModelXOneGS), params.ReadOnly,
		params.OneOf(string(device.ModelXOneGS), string(device.ModelXOne4K), string(device.ModelVirtual)),
		params.Describe("camera model"))
	serial := params.Declare(store, ParamSerialNumber, 0, params.ReadOnly,
		params.Range(0, math.MaxUint32), params.Describe("serial number of the camera to open, 0 for the first one"))
	resName := params.Declare(store, ParamGrabResolution, device.HD1080.Name, params.ReadOnly,
		params.OneOf(resolutions...), params.Describe("grab resolution"))
	fps := params.Declare(store, ParamGrabFrameRate, 30, params.ReadOnly,
		params.Range(15, 120), params.Describe("grab frame rate"))
	hdr := params.Declare(store, ParamEnableHDR, false, params.ReadOnly,
		params.Describe("enable HDR on models that support it"))
	openTimeout := params.Declare(store, ParamOpenTimeout, 5.0, params.ReadOnly,
		params.Range(0.1, 60), params.Describe("camera open timeout in seconds"))
	verbose := params.Declare(store, ParamSDKVerbose, 0, params.ReadOnly,
		params.Range(0, 3), params.Describe("camera driver log verbosity"))

	source := params.Declare(store, ParamInputSource, string(device.SourceSim), params.ReadOnly,
		params.OneOf(string(device.SourceSim), string(device.SourceReplay), string(device.SourceStream)),
		params.Describe("input source"))
	replayPath := params.Declare(store, ParamReplayPath, "", params.ReadOnly,
		params.Describe("directory of frames to replay"))
	replayRealtime := params.Declare(store, ParamReplayRealtime, true, params.ReadOnly,
		params.Describe("pace replay at the grab frame rate"))
	streamAddr := params.Declare(store, ParamStreamAddress, "", params.ReadOnly,
		params.Describe("network stream server address"))
	streamPort := params.Declare(store, ParamStreamPort, device.DefaultStreamPort, params.ReadOnly,
		params.Range(1, 65535), params.Describe("network stream server port"))

	retryWarn := params.Declare(store, ParamGrabRetryWarn, 10, params.ReadOnly,
		params.Range(1, 10000), params.Describe("consecutive transient failures before warning"))
	retryBackoff := params.Declare(store, ParamGrabRetryBackoff, 5, params.ReadOnly,
		params.Range(1, 200), params.Describe("initial retry backoff in milliseconds"))
	tempPeriod := params.Declare(store, ParamTempPubPeriod, 1.0, params.ReadOnly,
		params.Range(0.1, 60), params.Describe("temperature publish period in seconds"))

	params.Declare(store, ParamPubResolution, PubNative, params.Dynamic,
		params.OneOf(PubNative, PubCustom), params.Describe("published image resolution"))
	params.Declare(store, ParamDownscaleFactor, 1.0, params.Dynamic,
		params.Range(1, 16), params.Describe("downscale factor for CUSTOM resolution"))
	params.Declare(store, ParamCameraFlip, false, params.Dynamic,
		params.Describe("rotate published images by 180 degrees"))
	params.Declare(store, ParamFrameStale, 1.0, params.Dynamic,
		params.Range(0.01, 60), params.Describe("frame age above which diagnostics warn"))
	params.Declare(store, ParamTempStale, 5.0, params.Dynamic,
		params.Range(0.1, 600), params.Describe("temperature age above which diagnostics warn"))
	for _, p := range []string{ParamDebugCommon, ParamDebugVideo, ParamDebugSensors, ParamDebugStreaming} {
		params.Declare(store, p, false, params.Dynamic, params.Describe("verbose logging"))
	}

	res, _ := device.ParseResolution(resName)
	return Config{
		CameraName:       name,
		Model:            device.Model(model),
		Serial:           uint32(serial),
		Resolution:       res,
		FrameRate:        fps,
		HDR:              hdr,
		OpenTimeout:      seconds(openTimeout),
		SDKVerbose:       verbose,
		Source:           device.Source(source),
		ReplayPath:       replayPath,
		ReplayRealtime:   replayRealtime,
		StreamAddress:    streamAddr,
		StreamPort:       streamPort,
		GrabRetryWarn:    retryWarn,
		GrabRetryBackoff: time.Duration(retryBackoff) * time.Millisecond,
		TempPubPeriod:    seconds(tempPeriod),
		DrainTimeout:     2 * time.Second,
	}
}

// DynamicFromSet extracts the runtime-adjustable settings.
func DynamicFromSet(set *params.Set) Dynamic {
	return Dynamic{
		PubResolution:   params.Get[string](set, ParamPubResolution),
		DownscaleFactor: params.Get[float64](set, ParamDownscaleFactor),
		Flip:            params.Get[bool](set, ParamCameraFlip),
		FrameStale:      seconds(params.Get[float64](set, ParamFrameStale)),
		TempStale:       seconds(params.Get[float64](set, ParamTempStale)),
		Debug: DebugFlags{
			Common:    params.Get[bool](set, ParamDebugCommon),
			Video:     params.Get[bool](set, ParamDebugVideo),
			Sensors:   params.Get[bool](set, ParamDebugSensors),
			Streaming: params.Get[bool](set, ParamDebugStreaming),
		},
	}
}

// DeviceConfig converts the node configuration into an adapter configuration.
func (c Config) DeviceConfig(clk clock.Clock, logger logging.Logger) device.Config {
	return device.Config{
		Source:         c.Source,
		Model:          c.Model,
		Serial:         c.Serial,
		Resolution:     c.Resolution,
		FrameRate:      c.FrameRate,
		HDR:            c.HDR,
		OpenTimeout:    c.OpenTimeout,
		ReplayPath:     c.ReplayPath,
		ReplayRealtime: c.ReplayRealtime,
		StreamAddress:  c.StreamAddress,
		StreamPort:     c.StreamPort,
		Clock:          clk,
		Logger:         logger,
	}
}
