// Package sframe implements per-frame media encryption for calls.
//
// Each participant gets an AES-256-GCM key derived with HKDF-SHA256 from
// that participant's session secret. An encrypted frame is laid out as
//
//	header(2) | iv(12) | ciphertext | tag(16)
//
// where header = (key_id mod 256, counter mod 256) is sent in clear and
// authenticated as additional data.
package sframe
