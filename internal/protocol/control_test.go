package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlWireFormat(t *testing.T) {
	tests := []struct {
		name string
		msg  Control
		want string
	}{
		{"query", WhoAreYou{}, `{"msg":"?"}`},
		{"painter", WhoAreYou{Role: RolePainter, Name: "Ada", URL: "https://example.com"},
			`{"msg":"?","?":"painter","name":"Ada","url":"https://example.com"}`},
		{"canvas", WhoAreYou{Role: RoleCanvas}, `{"msg":"?","?":"canvas"}`},
		{"size", Size{W: 40, H: 40}, `{"msg":"size","w":40,"h":40}`},
		{"pull", PullRequest{}, `{"msg":"p"}`},
		{"error", ErrorNotice{Message: "bad", Naughty: 3}, `{"msg":"error","error":"bad","naughty":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeControl(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))

			decoded, err := DecodeControl(b)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestDecodeControlFromPeers(t *testing.T) {
	// Shapes sent by the Python and browser peers, with their own spacing.
	msg, err := DecodeControl([]byte(`{"msg": "?", "?": "painter", "name": "James", "url": "https://github.com/x"}`))
	require.NoError(t, err)
	assert.Equal(t, WhoAreYou{Role: RolePainter, Name: "James", URL: "https://github.com/x"}, msg)

	msg, err = DecodeControl([]byte(`{"msg": "size", "w": 40, "h": 40}`))
	require.NoError(t, err)
	assert.Equal(t, Size{W: 40, H: 40}, msg)
	assert.Equal(t, SquareDimensions(40), msg.(Size).Dimensions())
}

func TestDecodeControlBareTags(t *testing.T) {
	msg, err := DecodeControl([]byte("?"))
	require.NoError(t, err)
	assert.True(t, msg.(WhoAreYou).Query())

	msg, err = DecodeControl([]byte(" p\n"))
	require.NoError(t, err)
	assert.IsType(t, PullRequest{}, msg)
}

func TestDecodeControlUnrecognized(t *testing.T) {
	for _, in := range []string{
		`{"msg":"dance"}`,
		`{"w":1}`,
		`{"msg":17}`,
		`hello`,
		``,
		`{"msg":`,
	} {
		msg, err := DecodeControl([]byte(in))
		require.ErrorIs(t, err, ErrUnrecognizedMessage, "input %q", in)
		assert.IsType(t, Unknown{}, msg, "input %q", in)
	}

	msg, _ := DecodeControl([]byte(`{"msg":"dance","steps":3}`))
	unknown := msg.(Unknown)
	assert.Equal(t, "dance", unknown.Tag())
	assert.Equal(t, json.RawMessage("3"), unknown.Fields["steps"])
}

func TestDecodeControlMalformedSize(t *testing.T) {
	for _, in := range []string{
		`{"msg":"size"}`,
		`{"msg":"size","w":4}`,
		`{"msg":"size","w":-1,"h":4}`,
		`{"msg":"size","w":70000,"h":4}`,
		`{"msg":"size","w":"four","h":4}`,
	} {
		_, err := DecodeControl([]byte(in))
		require.ErrorIs(t, err, ErrMalformedControl, "input %q", in)
	}
}

func TestEncodeControlRejectsBadSize(t *testing.T) {
	_, err := EncodeControl(Size{W: 1 << 17, H: 1})
	require.ErrorIs(t, err, ErrMalformedControl)

	_, err = EncodeControl(Unknown{Msg: "x"})
	require.Error(t, err)
}

func TestErrorNoticeFinal(t *testing.T) {
	b := MustEncodeControl(ErrorNotice{Message: "stop", Naughty: 50, Final: true})
	msg, err := DecodeControl(b)
	require.NoError(t, err)
	assert.True(t, msg.(ErrorNotice).Final)
}

func TestParseTopology(t *testing.T) {
	top, err := ParseTopology("single")
	require.NoError(t, err)
	assert.Equal(t, TopologySingle, top)
	top, err = ParseTopology("multiplex")
	require.NoError(t, err)
	assert.Equal(t, TopologyMultiplex, top)
	_, err = ParseTopology("both")
	assert.Error(t, err)
}
