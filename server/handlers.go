package server

import (
	"encoding/binary"
	"errors"
	"net"

	"taglink/fdi"
	"taglink/logging"
	"taglink/tagstore"
)

// handleNoOp answers the heartbeat probe. The request must carry tag id 0
// and a zero payload.
func (s *Server) handleNoOp(conn net.Conn, tagID uint16, payload []byte) error {
	if tagID != 0 || !fdi.IsZeroPayload(payload) {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	return s.respond(conn, fdi.StatusAlive, 0, fdi.ZeroPayload())
}

// handleReadValue serves ReadSingleValue for numeric tags.
func (s *Server) handleReadValue(conn net.Conn, tagID uint16, payload []byte) error {
	if !fdi.IsZeroPayload(payload) {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	tag, ok := s.store.Get(tagID)
	if !ok || tag.Type() == tagstore.TypeString {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	if !tag.Access.CanRead() {
		return s.respond(conn, fdi.StatusUnauthorized, tagID, fdi.ZeroPayload())
	}
	return s.respond(conn, fdi.StatusSuccess, tagID, tag.ValuePayload())
}

// handleWriteValue serves WriteSingleValue for numeric tags.
func (s *Server) handleWriteValue(conn net.Conn, tagID uint16, payload []byte) error {
	tag, ok := s.store.Get(tagID)
	if !ok || tag.Type() == tagstore.TypeString {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	if !tag.Access.CanWrite() {
		return s.respond(conn, fdi.StatusUnauthorized, tagID, fdi.ZeroPayload())
	}
	value, err := tag.ApplyPayload(payload)
	if err != nil {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	if err := s.store.UpdateValue(tagID, value); err != nil {
		if errors.Is(err, tagstore.ErrNotFound) {
			return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
		}
		return s.respond(conn, fdi.StatusWriteFailed, tagID, fdi.ZeroPayload())
	}
	logging.DebugLog("server", "tag %d <- %s", tagID, value.Display())
	return s.respond(conn, fdi.StatusSuccess, tagID, fdi.ZeroPayload())
}

// handleReadString serves ReadString: a Successful header frame carrying
// the UTF-16 code-unit count, then the padded UTF-16LE body frames.
func (s *Server) handleReadString(conn net.Conn, tagID uint16, payload []byte) error {
	if !fdi.IsZeroPayload(payload) {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	tag, ok := s.store.Get(tagID)
	if !ok || tag.Type() != tagstore.TypeString {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	if !tag.Access.CanRead() {
		return s.respond(conn, fdi.StatusUnauthorized, tagID, fdi.ZeroPayload())
	}

	value, _ := tag.Value.String()
	body, err := fdi.EncodeUTF16(value)
	if err != nil {
		// Strings written over the wire are valid UTF-8, but the registry
		// itself does not validate; a tag that fails to transcode cannot
		// be served.
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}

	header := fdi.ZeroPayload()
	binary.LittleEndian.PutUint32(header, uint32(len(body)/2))
	if err := s.respond(conn, fdi.StatusSuccess, tagID, header); err != nil {
		return err
	}

	padded := fdi.PadToFrame(body)
	for off := 0; off < len(padded); off += fdi.FrameSize {
		chunk := padded[off : off+fdi.FrameSize]
		logging.DebugTX("server", chunk)
		if err := fdi.WriteFrame(conn, chunk); err != nil {
			return err
		}
	}
	return nil
}

// handleWriteString serves WriteString. The announced body frames are
// always consumed before any reply so the stream stays aligned even on
// an error response.
func (s *Server) handleWriteString(conn net.Conn, tagID uint16, payload []byte) error {
	units := binary.LittleEndian.Uint32(payload)
	byteLen := int(units) * 2
	frames := fdi.FramesNeeded(byteLen)

	body := make([]byte, 0, frames*fdi.FrameSize)
	for i := 0; i < frames; i++ {
		frame, err := fdi.ReadFrame(conn)
		if err != nil {
			return err
		}
		logging.DebugRX("server", frame)
		body = append(body, frame...)
	}

	tag, ok := s.store.Get(tagID)
	if !ok || tag.Type() != tagstore.TypeString {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	if !tag.Access.CanWrite() {
		return s.respond(conn, fdi.StatusUnauthorized, tagID, fdi.ZeroPayload())
	}

	value, err := fdi.DecodeUTF16(body[:byteLen])
	if err != nil {
		return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
	}
	if err := s.store.UpdateValue(tagID, tagstore.StringValue(value)); err != nil {
		if errors.Is(err, tagstore.ErrNotFound) {
			return s.respond(conn, fdi.StatusImplausibleArg, tagID, fdi.ZeroPayload())
		}
		return s.respond(conn, fdi.StatusWriteFailed, tagID, fdi.ZeroPayload())
	}
	logging.DebugLog("server", "tag %d <- %q", tagID, value)
	return s.respond(conn, fdi.StatusSuccess, tagID, fdi.ZeroPayload())
}
