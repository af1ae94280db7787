package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	data := Encode(Frame, []byte{0xff, 0xd8, 0xff})
	assert.Equal(t, []byte{1, 0xff, 0xd8, 0xff}, data)

	data = Encode(ServerStatus, nil)
	assert.Equal(t, []byte{2}, data)
}

func TestEncodeJSON(t *testing.T) {
	data, err := EncodeJSON(GridPosition, PositionPayload{X: 15, Y: 45, Valid: true})
	require.NoError(t, err)

	assert.Equal(t, byte(6), data[0])
	assert.JSONEq(t, `{"x":15,"y":45,"valid":true}`, string(data[1:]))

	_, err = EncodeJSON(Path, make(chan int))
	assert.Error(t, err)
}

func TestTagValues(t *testing.T) {
	tests := []struct {
		t    MessageType
		want byte
	}{
		{Frame, 1},
		{ServerStatus, 2},
		{Mask, 3},
		{Path, 4},
		{GridPosition, 6},
		{GridConfirmation, 7},
		{ProgressUpdate, 8},
		{CameraInfo, 9},
		{Error, 10},
	}
	for _, tt := range tests {
		t.Run(tt.t.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, byte(tt.t))
			assert.True(t, tt.t.Valid())
		})
	}
	assert.False(t, MessageType(5).Valid())
}

func TestDecode(t *testing.T) {
	t.Run("splits tag and payload", func(t *testing.T) {
		typ, payload, err := Decode([]byte{3, 0x89, 'P', 'N', 'G'})
		require.NoError(t, err)
		assert.Equal(t, Mask, typ)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, payload)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := Decode(nil)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, _, err := Decode([]byte{5, '{', '}'})
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("json of wrong type", func(t *testing.T) {
		data, err := EncodeJSON(CameraInfo, CameraInfoPayload{Width: 640, Height: 480})
		require.NoError(t, err)

		var info CameraInfoPayload
		require.NoError(t, DecodeJSON(data, CameraInfo, &info))
		assert.Equal(t, CameraInfoPayload{Width: 640, Height: 480}, info)

		assert.Error(t, DecodeJSON(data, Error, &info))
	})
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		raw     string
		want    Command
		wantErr error
	}{
		{"START_CAMERA", Command{Kind: StartCamera}, nil},
		{"  stop_camera\n", Command{Kind: StopCamera}, nil},
		{"PROCESS_SEGMENTATION", Command{Kind: ProcessSegmentation}, nil},
		{"PROCESS_SAM", Command{Kind: ProcessSegmentation}, nil},
		{"START_COMBAT", Command{Kind: StartCombat}, nil},
		{"STOP_COMBAT", Command{Kind: StopCombat}, nil},
		{"RESET_GESTURE", Command{Kind: ResetGesture}, nil},
		{"SET_SCENE:table", Command{Kind: SetScene, Arg: SceneTable}, nil},
		{"SET_SCENE: WALL", Command{Kind: SetScene, Arg: SceneWall}, nil},
		{"SET_SCENE:floor", Command{}, ErrBadArgument},
		{"START_CAMERA:1", Command{}, ErrBadArgument},
		{"", Command{}, ErrUnknownCommand},
		{"FLY", Command{}, ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseCommand(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendHelpers(t *testing.T) {
	rec := NewRecorder()

	require.NoError(t, SendStatus(rec, StatusCameraStarted))
	require.NoError(t, SendProgress(rec, "aruco", 15))
	require.NoError(t, SendError(rec, CodeNoPath, errors.New("no path to goal")))
	require.NoError(t, SendBytes(rec, Frame, []byte{1, 2}))

	assert.Equal(t, []MessageType{ServerStatus, ProgressUpdate, Error, Frame}, rec.Types())

	var e ErrorPayload
	require.NoError(t, json.Unmarshal(rec.OfType(Error)[0], &e))
	assert.Equal(t, ErrorPayload{Error: "no path to goal", Code: CodeNoPath}, e)

	rec.SetError(errors.New("closed"))
	assert.Error(t, SendStatus(rec, StatusCameraStopped))
	assert.Len(t, rec.Messages(), 4)
}
