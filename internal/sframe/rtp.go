package sframe

import "github.com/pion/rtp"

// PacketTransform rewrites one RTP packet, typically sealing or opening its payload.
type PacketTransform func(*rtp.Packet) (*rtp.Packet, error)

type FrameEncrypter interface {
	Encrypt(frame []byte) ([]byte, error)
}

type FrameDecrypter interface {
	Decrypt(frame []byte) ([]byte, error)
}

// SealPacket returns a copy of pkt whose payload is encrypted.
// The RTP header stays in clear so relays can route the packet.
func SealPacket(enc FrameEncrypter, pkt *rtp.Packet) (*rtp.Packet, error) {
	payload, err := enc.Encrypt(pkt.Payload)
	if err != nil {
		return nil, err
	}
	return withPayload(pkt, payload), nil
}

// OpenPacket reverses SealPacket.
func OpenPacket(dec FrameDecrypter, pkt *rtp.Packet) (*rtp.Packet, error) {
	payload, err := dec.Decrypt(pkt.Payload)
	if err != nil {
		return nil, err
	}
	return withPayload(pkt, payload), nil
}

func withPayload(pkt *rtp.Packet, payload []byte) *rtp.Packet {
	out := &rtp.Packet{Header: pkt.Header.Clone(), Payload: payload}
	out.Padding = false
	out.PaddingSize = 0
	return out
}
