package frame

// Check walks a candidate frame starting at the cursor's current position
// without copying payload bytes, advancing the cursor to the end of the
// frame if one is fully present. It returns ErrIncomplete if the buffer is
// too short to tell, or a *MalformedError if the discriminator or a length
// field can never be valid. Corrupt buffers are never silently truncated:
// a Malformed result means the connection must be closed.
func Check(c *Cursor) error {
	kind, err := c.readU8()
	if err != nil {
		return err
	}

	switch Kind(kind) {
	case KindClientConnected, KindPing, KindPong:
		if Kind(kind) == KindPong {
			if _, err := c.readI64(); err != nil {
				return err
			}
		}
		return nil

	case KindClientConnectedAck:
		_, err := c.readU16()
		return err

	case KindAuthenticate:
		grant, err := c.readU8()
		if err != nil {
			return err
		}
		switch GrantType(grant) {
		case GrantPassword:
			if err := checkU32String(c); err != nil {
				return err
			}
			if err := checkU32String(c); err != nil {
				return err
			}
			hasOTP, err := c.readU8()
			if err != nil {
				return err
			}
			if hasOTP != 0 {
				return checkU32String(c)
			}
			return nil
		case GrantToken:
			return checkU32String(c)
		default:
			return malformed("unknown grant type")
		}

	case KindAuthenticateAck:
		if err := checkU32String(c); err != nil {
			return err
		}
		if err := checkU32String(c); err != nil {
			return err
		}
		hasToken, err := c.readU8()
		if err != nil {
			return err
		}
		if hasToken != 0 {
			return checkU32String(c)
		}
		return nil

	case KindSocketConnected, KindSocketDisconnected:
		_, err := c.readU32()
		return err

	case KindClientPacket, KindHostPacket:
		if _, err := c.readU32(); err != nil {
			return err
		}
		length, err := c.readU32()
		if err != nil {
			return err
		}
		return c.skip(length)

	case KindError:
		if _, err := c.readU16(); err != nil {
			return err
		}
		length, err := c.readU32()
		if err != nil {
			return err
		}
		return c.skip(length)

	default:
		return malformed("unknown discriminator")
	}
}

func checkU32String(c *Cursor) error {
	n, err := c.readU32()
	if err != nil {
		return err
	}
	return c.skip(n)
}

// Parse materializes a Frame from a cursor that Check has already
// confirmed is complete. It re-reads from the start of whatever slice the
// caller passes; callers are expected to reset the cursor's position to 0
// after a successful Check.
func Parse(c *Cursor) (Frame, error) {
	kind, err := c.readU8()
	if err != nil {
		return nil, err
	}

	switch Kind(kind) {
	case KindClientConnected:
		return ClientConnected{}, nil

	case KindPing:
		return Ping{}, nil

	case KindPong:
		ts, err := c.readI64()
		if err != nil {
			return nil, err
		}
		return Pong{TimestampMs: ts}, nil

	case KindClientConnectedAck:
		port, err := c.readU16()
		if err != nil {
			return nil, err
		}
		return ClientConnectedAck{Port: port}, nil

	case KindAuthenticate:
		grant, err := c.readU8()
		if err != nil {
			return nil, err
		}
		f := Authenticate{Grant: GrantType(grant)}
		switch f.Grant {
		case GrantPassword:
			if f.User, err = parseU32String(c); err != nil {
				return nil, err
			}
			if f.Password, err = parseU32String(c); err != nil {
				return nil, err
			}
			hasOTP, err := c.readU8()
			if err != nil {
				return nil, err
			}
			if hasOTP != 0 {
				f.HasOTP = true
				if f.OTP, err = parseU32String(c); err != nil {
					return nil, err
				}
			}
		case GrantToken:
			if f.Token, err = parseU32String(c); err != nil {
				return nil, err
			}
		default:
			return nil, malformed("unknown grant type")
		}
		return f, nil

	case KindAuthenticateAck:
		f := AuthenticateAck{}
		if f.AccountID, err = parseU32String(c); err != nil {
			return nil, err
		}
		if f.Email, err = parseU32String(c); err != nil {
			return nil, err
		}
		hasToken, err := c.readU8()
		if err != nil {
			return nil, err
		}
		if hasToken != 0 {
			f.HasToken = true
			if f.Token, err = parseU32String(c); err != nil {
				return nil, err
			}
		}
		return f, nil

	case KindSocketConnected:
		id, err := c.readU32()
		if err != nil {
			return nil, err
		}
		return SocketConnected{ConnectionID: id}, nil

	case KindSocketDisconnected:
		id, err := c.readU32()
		if err != nil {
			return nil, err
		}
		return SocketDisconnected{ConnectionID: id}, nil

	case KindClientPacket:
		id, buf, err := parseDataPayload(c)
		if err != nil {
			return nil, err
		}
		return ClientPacket{ConnectionID: id, Buffer: buf}, nil

	case KindHostPacket:
		id, buf, err := parseDataPayload(c)
		if err != nil {
			return nil, err
		}
		return HostPacket{ConnectionID: id, Buffer: buf}, nil

	case KindError:
		reason, err := c.readU16()
		if err != nil {
			return nil, err
		}
		length, err := c.readU32()
		if err != nil {
			return nil, err
		}
		var data []byte
		if length > 0 {
			if data, err = c.takeBytes(length); err != nil {
				return nil, err
			}
		}
		return ErrorFrame{Reason: Reason(reason), Data: data}, nil

	default:
		return nil, malformed("unknown discriminator")
	}
}

func parseU32String(c *Cursor) (string, error) {
	n, err := c.readU32()
	if err != nil {
		return "", err
	}
	return c.takeString(n)
}

func parseDataPayload(c *Cursor) (uint32, []byte, error) {
	id, err := c.readU32()
	if err != nil {
		return 0, nil, err
	}
	length, err := c.readU32()
	if err != nil {
		return 0, nil, err
	}
	buf, err := c.takeBytes(length)
	if err != nil {
		return 0, nil, err
	}
	return id, buf, nil
}
