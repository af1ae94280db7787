package protocol

// StatusPayload is the body of a SERVER_STATUS message.
type StatusPayload struct {
	Status string `json:"status"`
}

// Server status values.
const (
	StatusCameraStarted     = "camera_started"
	StatusCameraStopped     = "camera_stopped"
	StatusCameraUnavailable = "camera_unavailable"
	StatusCombatStarted     = "combat_started"
	StatusCombatStopped     = "combat_stopped"
	StatusSegmentationDone  = "segmentation_done"
)

// PositionPayload is the body of GRID_POSITION and GRID_CONFIRMATION.
type PositionPayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Valid bool    `json:"valid"`
}

// ProgressPayload is the body of a PROGRESS_UPDATE message.
type ProgressPayload struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"`
}

// CameraInfoPayload is the body of a CAMERA_INFO message.
type CameraInfoPayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ErrorPayload is the body of an ERROR message.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes carried in ErrorPayload.Code.
const (
	CodeCameraUnavailable  = "camera_unavailable"
	CodeCameraBusy         = "camera_busy"
	CodeCameraFailed       = "camera_failed"
	CodeNoFrame            = "no_frame"
	CodeSegmentationFailed = "segmentation_failed"
	CodeInvalidMask        = "invalid_mask"
	CodeNoPath             = "no_path"
	CodeUnknownCommand     = "unknown_command"
	CodeModeConflict       = "mode_conflict"
)

// PathPoint is one waypoint of a PATH message.
type PathPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}
