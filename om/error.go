package om

import (
	"fmt"

	"github.com/canopy-network/generals/lib"
	"google.golang.org/protobuf/encoding/protowire"
)

func ErrChannelFull(tier, pathIndex, capacity int) lib.ErrorI {
	return lib.NewError(lib.CodeChannelFull, lib.ProtocolModule,
		fmt.Sprintf("channel (%d, %d) is full at capacity %d", tier, pathIndex, capacity))
}

func ErrChannelClosed(tier, pathIndex int) lib.ErrorI {
	return lib.NewError(lib.CodeChannelClosed, lib.ProtocolModule, fmt.Sprintf("channel (%d, %d) is closed", tier, pathIndex))
}

func ErrNoSuchChannel(tier, pathIndex int) lib.ErrorI {
	return lib.NewError(lib.CodeNoSuchChannel, lib.ProtocolModule, fmt.Sprintf("no channel at (%d, %d)", tier, pathIndex))
}

func ErrFrameDecode(n int) lib.ErrorI {
	return lib.NewError(lib.CodeFrameDecode, lib.ProtocolModule, fmt.Sprintf("frame decode failed with err: %s", protowire.ParseError(n)))
}

func ErrUnexpectedField(num protowire.Number, typ protowire.Type) lib.ErrorI {
	return lib.NewError(lib.CodeFrameDecode, lib.ProtocolModule, fmt.Sprintf("unexpected frame field %d of wire type %d", num, typ))
}

func ErrFrameWidth(expected, got int) lib.ErrorI {
	return lib.NewError(lib.CodeFrameWidth, lib.ProtocolModule, fmt.Sprintf("expected a %d byte frame, got %d", expected, got))
}

func ErrFanoutMismatch(tier, id, copies, recipients int) lib.ErrorI {
	return lib.NewError(lib.CodeFanoutMismatch, lib.ProtocolModule,
		fmt.Sprintf("general %d at tier %d sent %d copies for %d recipients", id, tier, copies, recipients))
}

func ErrProvenanceMismatch(tier, id int, path []int) lib.ErrorI {
	return lib.NewError(lib.CodeProvenanceMismatch, lib.ProtocolModule,
		fmt.Sprintf("general %d at tier %d received path %v that disagrees with its visited set", id, tier, path))
}

func ErrContextDone(err error) lib.ErrorI {
	return lib.NewError(lib.CodeContextDone, lib.ProtocolModule, fmt.Sprintf("context done: %s", err.Error()))
}

func ErrInvalidCommand(s string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidCommand, lib.ProtocolModule, fmt.Sprintf("invalid command %q", s))
}

func ErrInvalidCommander(id, nGenerals int) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidCommander, lib.ProtocolModule, fmt.Sprintf("commander %d is not in [0, %d)", id, nGenerals))
}

func ErrInvalidGeneral(id, nGenerals int) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidGeneral, lib.ProtocolModule, fmt.Sprintf("general %d is not in [0, %d)", id, nGenerals))
}

func ErrSessionUsed() lib.ErrorI {
	return lib.NewError(lib.CodeSessionUsed, lib.ProtocolModule, "session already ran a broadcast")
}

func ErrSessionClosed() lib.ErrorI {
	return lib.NewError(lib.CodeSessionClosed, lib.ProtocolModule, "session was cleaned up")
}
