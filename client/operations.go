package client

import (
	"encoding/binary"
	"fmt"
	"math"

	"taglink/fdi"
)

// NoOp sends a liveness probe and validates the Alive acknowledgment.
func (c *Client) NoOp() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fdi.ErrNotConnected
	}
	status, tagID, payload, err := c.exchangeLocked(fdi.CmdNoOp, 0, fdi.ZeroPayload())
	if err != nil {
		return err
	}
	if status != fdi.StatusAlive || tagID != 0 || !fdi.IsZeroPayload(payload) {
		return fmt.Errorf("%w: (%s, %d, % X)", fdi.ErrInvalidNoOpResponse, status, tagID, payload)
	}
	return nil
}

// readValue runs one ReadSingleValue exchange and returns the raw 4-byte
// value slot. The typed Read helpers decode it.
func (c *Client) readValue(tagID uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, fdi.ErrNotConnected
	}
	status, respID, payload, err := c.exchangeLocked(fdi.CmdReadValue, tagID, fdi.ZeroPayload())
	if err != nil {
		return nil, err
	}
	if status != fdi.StatusSuccess {
		return nil, &fdi.StatusError{Status: status}
	}
	if respID != tagID {
		return nil, fdi.ErrTagIDMismatch
	}
	return payload, nil
}

// ReadInt reads a tag's value as a signed 32-bit integer.
func (c *Client) ReadInt(tagID uint16) (int32, error) {
	payload, err := c.readValue(tagID)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(payload)), nil
}

// ReadUint reads a tag's value as an unsigned 32-bit integer.
func (c *Client) ReadUint(tagID uint16) (uint32, error) {
	payload, err := c.readValue(tagID)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// ReadFloat reads a tag's value as a 32-bit float.
func (c *Client) ReadFloat(tagID uint16) (float32, error) {
	payload, err := c.readValue(tagID)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(payload)), nil
}

// writeValue runs one WriteSingleValue exchange.
func (c *Client) writeValue(tagID uint16, payload []byte) error {
	if len(payload) != fdi.PayloadSize {
		return fmt.Errorf("write value: payload is %d bytes (want %d)", len(payload), fdi.PayloadSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fdi.ErrNotConnected
	}
	status, respID, respPayload, err := c.exchangeLocked(fdi.CmdWriteValue, tagID, payload)
	if err != nil {
		return err
	}
	if status != fdi.StatusSuccess {
		return &fdi.StatusError{Status: status}
	}
	if respID != tagID || !fdi.IsZeroPayload(respPayload) {
		return fmt.Errorf("%w: (%s, %d, % X)", fdi.ErrInvalidWriteResponse, status, respID, respPayload)
	}
	return nil
}

// WriteInt writes a signed 32-bit integer tag value.
func (c *Client) WriteInt(tagID uint16, value int32) error {
	payload := make([]byte, fdi.PayloadSize)
	binary.LittleEndian.PutUint32(payload, uint32(value))
	return c.writeValue(tagID, payload)
}

// WriteUint writes an unsigned 32-bit integer tag value.
func (c *Client) WriteUint(tagID uint16, value uint32) error {
	payload := make([]byte, fdi.PayloadSize)
	binary.LittleEndian.PutUint32(payload, value)
	return c.writeValue(tagID, payload)
}

// WriteFloat writes a 32-bit float tag value.
func (c *Client) WriteFloat(tagID uint16, value float32) error {
	payload := make([]byte, fdi.PayloadSize)
	binary.LittleEndian.PutUint32(payload, math.Float32bits(value))
	return c.writeValue(tagID, payload)
}

// ReadString reads a String-typed tag: header frame first, then the
// announced number of UTF-16LE body frames. A header for the wrong tag
// closes the connection, because the body frames that follow would leave
// the stream misaligned.
func (c *Client) ReadString(tagID uint16) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return "", fdi.ErrNotConnected
	}
	status, respID, header, err := c.exchangeLocked(fdi.CmdReadString, tagID, fdi.ZeroPayload())
	if err != nil {
		return "", err
	}
	if status != fdi.StatusSuccess {
		return "", &fdi.StatusError{Status: status}
	}
	if respID != tagID {
		c.closeLocked("string header tag mismatch")
		return "", fdi.ErrTagIDMismatch
	}

	units := binary.LittleEndian.Uint32(header)
	byteLen := int(units) * 2
	frames := fdi.FramesNeeded(byteLen)

	body := make([]byte, 0, frames*fdi.FrameSize)
	for i := 0; i < frames; i++ {
		frame, err := c.recvLocked()
		if err != nil {
			return "", err
		}
		body = append(body, frame...)
	}

	value, err := fdi.DecodeUTF16(body[:byteLen])
	if err != nil {
		return "", err
	}
	return value, nil
}

// WriteString writes a String-typed tag: header carrying the UTF-16
// code-unit count, then the padded body frames, then one response frame.
func (c *Client) WriteString(tagID uint16, value string) error {
	body, err := fdi.EncodeUTF16(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fdi.ErrNotConnected
	}

	header := fdi.ZeroPayload()
	binary.LittleEndian.PutUint32(header, uint32(len(body)/2))
	req, err := fdi.EncodeRequest(fdi.CmdWriteString, tagID, header)
	if err != nil {
		return err
	}
	if err := c.sendLocked(req); err != nil {
		return err
	}

	padded := fdi.PadToFrame(body)
	for off := 0; off < len(padded); off += fdi.FrameSize {
		if err := c.sendLocked(padded[off : off+fdi.FrameSize]); err != nil {
			return err
		}
	}

	resp, err := c.recvLocked()
	if err != nil {
		return err
	}
	status, respID, respPayload, err := fdi.DecodeResponse(resp)
	if err != nil {
		c.closeLocked("undecodable response")
		return err
	}
	if status != fdi.StatusSuccess {
		return &fdi.StatusError{Status: status}
	}
	if respID != tagID || !fdi.IsZeroPayload(respPayload) {
		return fmt.Errorf("%w: (%s, %d, % X)", fdi.ErrInvalidWriteResponse, status, respID, respPayload)
	}
	return nil
}
