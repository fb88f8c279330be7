package frame

import "bytes"

// Encode serializes f into its wire representation: the discriminator byte
// followed by each payload field in declared order. Integer widths and
// field order are part of the wire contract and must never change.
func Encode(f Frame) []byte {
	buf := new(bytes.Buffer)

	switch v := f.(type) {
	case ClientConnected:
		buf.WriteByte(byte(KindClientConnected))

	case ClientConnectedAck:
		buf.WriteByte(byte(KindClientConnectedAck))
		putU16(buf, v.Port)

	case Authenticate:
		buf.WriteByte(byte(KindAuthenticate))
		buf.WriteByte(byte(v.Grant))
		switch v.Grant {
		case GrantPassword:
			putU32String(buf, v.User)
			putU32String(buf, v.Password)
			if v.HasOTP {
				buf.WriteByte(1)
				putU32String(buf, v.OTP)
			} else {
				buf.WriteByte(0)
			}
		case GrantToken:
			putU32String(buf, v.Token)
		}

	case AuthenticateAck:
		buf.WriteByte(byte(KindAuthenticateAck))
		putU32String(buf, v.AccountID)
		putU32String(buf, v.Email)
		if v.HasToken {
			buf.WriteByte(1)
			putU32String(buf, v.Token)
		} else {
			buf.WriteByte(0)
		}

	case Ping:
		buf.WriteByte(byte(KindPing))

	case Pong:
		buf.WriteByte(byte(KindPong))
		putI64(buf, v.TimestampMs)

	case SocketConnected:
		buf.WriteByte(byte(KindSocketConnected))
		putU32(buf, v.ConnectionID)

	case SocketDisconnected:
		buf.WriteByte(byte(KindSocketDisconnected))
		putU32(buf, v.ConnectionID)

	case ClientPacket:
		buf.WriteByte(byte(KindClientPacket))
		putU32(buf, v.ConnectionID)
		putU32(buf, uint32(len(v.Buffer)))
		buf.Write(v.Buffer)

	case HostPacket:
		buf.WriteByte(byte(KindHostPacket))
		putU32(buf, v.ConnectionID)
		putU32(buf, uint32(len(v.Buffer)))
		buf.Write(v.Buffer)

	case ErrorFrame:
		buf.WriteByte(byte(KindError))
		putU16(buf, uint16(v.Reason))
		putU32(buf, uint32(len(v.Data)))
		buf.Write(v.Data)
	}

	return buf.Bytes()
}

func putU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func putU32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func putI64(buf *bytes.Buffer, v int64) {
	u := uint64(v)
	for shift := 56; shift >= 0; shift -= 8 {
		buf.WriteByte(byte(u >> uint(shift)))
	}
}

func putU32String(buf *bytes.Buffer, s string) {
	putU32(buf, uint32(len(s)))
	buf.WriteString(s)
}
