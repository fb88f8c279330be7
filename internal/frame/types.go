// Package frame implements the binary wire protocol for the tunnel control
// connection: a closed set of discriminated, length-prefixed frames and the
// cursor-based incremental codec that encodes and decodes them.
//
// Every frame starts with a one-byte Kind discriminator. Integer fields are
// big-endian. Byte-bearing fields are length-prefixed with a u32 count.
package frame

// Kind is the one-byte wire discriminator for a frame variant. The set is
// closed and fixed by the protocol; adding a variant is a wire-incompatible
// change.
type Kind uint8

const (
	KindClientConnected    Kind = 0x01
	KindClientConnectedAck Kind = 0x02
	KindAuthenticate       Kind = 0x03
	KindAuthenticateAck    Kind = 0x04
	KindPing               Kind = 0x05
	KindPong               Kind = 0x06
	KindSocketConnected    Kind = 0x07
	KindSocketDisconnected Kind = 0x08
	KindClientPacket       Kind = 0x09
	KindHostPacket         Kind = 0x0A
	KindError              Kind = 0x0B
)

func (k Kind) String() string {
	switch k {
	case KindClientConnected:
		return "ClientConnected"
	case KindClientConnectedAck:
		return "ClientConnectedAck"
	case KindAuthenticate:
		return "Authenticate"
	case KindAuthenticateAck:
		return "AuthenticateAck"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindSocketConnected:
		return "SocketConnected"
	case KindSocketDisconnected:
		return "SocketDisconnected"
	case KindClientPacket:
		return "ClientPacket"
	case KindHostPacket:
		return "HostPacket"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// GrantType selects the authentication method carried by an Authenticate
// frame.
type GrantType uint8

const (
	GrantPassword GrantType = 0x01
	GrantToken    GrantType = 0x02
)

func (g GrantType) String() string {
	switch g {
	case GrantPassword:
		return "password"
	case GrantToken:
		return "token"
	default:
		return "unknown"
	}
}

// Frame is the sum type of every message that can travel on the control
// connection. Concrete variants are the exported structs in this package.
type Frame interface {
	Kind() Kind
}

type ClientConnected struct{}

func (ClientConnected) Kind() Kind { return KindClientConnected }

type ClientConnectedAck struct {
	Port uint16
}

func (ClientConnectedAck) Kind() Kind { return KindClientConnectedAck }

// Authenticate carries either a password grant or a token grant, selected
// by Grant. OTP is optional and only meaningful for the password grant.
type Authenticate struct {
	Grant    GrantType
	User     string
	Password string
	OTP      string
	HasOTP   bool
	Token    string
}

func (Authenticate) Kind() Kind { return KindAuthenticate }

// AuthenticateAck is returned on a successful Authenticate. Token is present
// only for the password grant (a freshly minted JWT); a token-grant refresh
// carries no new token.
type AuthenticateAck struct {
	AccountID string
	Email     string
	Token     string
	HasToken  bool
}

func (AuthenticateAck) Kind() Kind { return KindAuthenticateAck }

type Ping struct{}

func (Ping) Kind() Kind { return KindPing }

// Pong carries the server's timestamp in milliseconds since the Unix epoch,
// used by the client to compute round-trip time and liveness.
type Pong struct {
	TimestampMs int64
}

func (Pong) Kind() Kind { return KindPong }

type SocketConnected struct {
	ConnectionID uint32
}

func (SocketConnected) Kind() Kind { return KindSocketConnected }

// SocketDisconnected is the unified disconnect signal: it is sent by the
// server when a public-side socket closes, and by the client when its
// local/private-side socket closes. The direction is implied by the sender,
// not the frame.
type SocketDisconnected struct {
	ConnectionID uint32
}

func (SocketDisconnected) Kind() Kind { return KindSocketDisconnected }

// ClientPacket carries bytes read from the client's private target,
// destined for the public-side socket identified by ConnectionID.
type ClientPacket struct {
	ConnectionID uint32
	Buffer       []byte
}

func (ClientPacket) Kind() Kind { return KindClientPacket }

// HostPacket carries bytes read from the public-side socket, destined for
// the client's private target identified by ConnectionID.
type HostPacket struct {
	ConnectionID uint32
	Buffer       []byte
}

func (HostPacket) Kind() Kind { return KindHostPacket }

// ErrorFrame reports a closed-taxonomy failure Reason, with an optional
// human-readable message in Data.
type ErrorFrame struct {
	Reason Reason
	Data   []byte
}

func (ErrorFrame) Kind() Kind { return KindError }
