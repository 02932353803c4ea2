package params

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"quantum-rover/pkg/roverrs"
)

// Persisted record layout: a fixed-size little-endian header and body
// followed by a 32-bit additive checksum over every preceding byte. The
// version byte lets future fields extend the body without breaking the
// checksum contract for old records.
const (
	recordMagic   = 0x51524F56 // "QROV"
	recordVersion = 1
)

// paramRecordV1 is the on-disk image of RuntimeParameters.
type paramRecordV1 struct {
	Magic   uint32
	Version uint8
	_       [3]byte // reserved

	AmplitudeLeft      float64
	AmplitudeRight     float64
	CoherenceTimeMs    uint32
	NoiseLevel         float64
	MotorSpeed         uint8
	MotorSpeedLeft     uint8
	MotorSpeedRight    uint8
	_                  uint8 // reserved
	DecisionIntervalMs uint32
}

// AdditiveChecksum sums the raw bytes into a 32-bit accumulator. Matches
// the firmware's EEPROM guard: cheap, order-insensitive to single-byte
// corruption but not to reordering, which the fixed layout prevents.
func AdditiveChecksum(buf []byte) uint32 {
	var sum uint32
	for _, b := range buf {
		sum += uint32(b)
	}
	return sum
}

// EncodeRecord serializes parameters into the versioned checksummed record.
func EncodeRecord(p RuntimeParameters) ([]byte, error) {
	rec := paramRecordV1{
		Magic:              recordMagic,
		Version:            recordVersion,
		AmplitudeLeft:      p.AmplitudeLeft,
		AmplitudeRight:     p.AmplitudeRight,
		CoherenceTimeMs:    p.CoherenceTimeMs,
		NoiseLevel:         p.NoiseLevel,
		MotorSpeed:         p.MotorSpeed,
		MotorSpeedLeft:     p.MotorSpeedLeft,
		MotorSpeedRight:    p.MotorSpeedRight,
		DecisionIntervalMs: p.DecisionIntervalMs,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
		return nil, roverrs.Wrap(err, roverrs.ErrPersistence, "encode parameter record")
	}
	sum := AdditiveChecksum(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return nil, roverrs.Wrap(err, roverrs.ErrPersistence, "encode checksum")
	}
	return buf.Bytes(), nil
}

// DecodeRecord parses and verifies a persisted record. A checksum or
// layout mismatch returns an error; the caller substitutes defaults.
func DecodeRecord(data []byte) (RuntimeParameters, error) {
	var zero RuntimeParameters

	if len(data) < 5 {
		return zero, roverrs.New(roverrs.ErrPersistence, "record truncated")
	}
	body := data[:len(data)-4]
	stored := binary.LittleEndian.Uint32(data[len(data)-4:])
	if computed := AdditiveChecksum(body); computed != stored {
		return zero, roverrs.ChecksumError(stored, computed)
	}

	var rec paramRecordV1
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &rec); err != nil {
		return zero, roverrs.Wrap(err, roverrs.ErrPersistence, "decode parameter record")
	}
	if rec.Magic != recordMagic {
		return zero, roverrs.Newf(roverrs.ErrPersistence, "bad magic %08x", rec.Magic)
	}
	if rec.Version != recordVersion {
		return zero, roverrs.Newf(roverrs.ErrPersistence, "unsupported record version %d", rec.Version)
	}

	p := RuntimeParameters{
		AmplitudeLeft:      rec.AmplitudeLeft,
		AmplitudeRight:     rec.AmplitudeRight,
		CoherenceTimeMs:    rec.CoherenceTimeMs,
		NoiseLevel:         rec.NoiseLevel,
		MotorSpeed:         rec.MotorSpeed,
		MotorSpeedLeft:     rec.MotorSpeedLeft,
		MotorSpeedRight:    rec.MotorSpeedRight,
		DecisionIntervalMs: rec.DecisionIntervalMs,
	}
	p.Clamp()
	return p, nil
}

// NetworkConfig is the bridge's persisted access-point identity and session
// credentials, stored under the same checksum contract as the parameters.
type NetworkConfig struct {
	SSID      string `json:"ssid"`
	Password  string `json:"password"`
	AuthToken string `json:"auth_token"`
	TCPPort   uint16 `json:"tcp_port"`
	HTTPPort  uint16 `json:"http_port"`
}

// DefaultNetworkConfig returns the compiled-in bridge identity.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		SSID:      "QuantumRobot_AP",
		Password:  "quantum2024",
		AuthToken: "pass123",
		TCPPort:   8888,
		HTTPPort:  8889,
	}
}

const netStringLen = 32

type netRecordV1 struct {
	Magic   uint32
	Version uint8
	_       [3]byte

	SSID      [netStringLen]byte
	Password  [netStringLen]byte
	AuthToken [netStringLen]byte
	TCPPort   uint16
	HTTPPort  uint16
}

func packString(s string) (out [netStringLen]byte, err error) {
	if len(s) >= netStringLen {
		return out, fmt.Errorf("string %q exceeds %d bytes", s, netStringLen-1)
	}
	copy(out[:], s)
	return out, nil
}

func unpackString(b [netStringLen]byte) string {
	if i := bytes.IndexByte(b[:], 0); i >= 0 {
		return string(b[:i])
	}
	return string(b[:])
}

// EncodeNetworkRecord serializes the bridge network config.
func EncodeNetworkRecord(nc NetworkConfig) ([]byte, error) {
	rec := netRecordV1{
		Magic:    recordMagic,
		Version:  recordVersion,
		TCPPort:  nc.TCPPort,
		HTTPPort: nc.HTTPPort,
	}
	var err error
	if rec.SSID, err = packString(nc.SSID); err != nil {
		return nil, roverrs.Wrap(err, roverrs.ErrValidation, "ssid")
	}
	if rec.Password, err = packString(nc.Password); err != nil {
		return nil, roverrs.Wrap(err, roverrs.ErrValidation, "password")
	}
	if rec.AuthToken, err = packString(nc.AuthToken); err != nil {
		return nil, roverrs.Wrap(err, roverrs.ErrValidation, "auth token")
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
		return nil, roverrs.Wrap(err, roverrs.ErrPersistence, "encode network record")
	}
	sum := AdditiveChecksum(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return nil, roverrs.Wrap(err, roverrs.ErrPersistence, "encode checksum")
	}
	return buf.Bytes(), nil
}

// DecodeNetworkRecord parses and verifies a persisted network config.
func DecodeNetworkRecord(data []byte) (NetworkConfig, error) {
	var zero NetworkConfig

	if len(data) < 5 {
		return zero, roverrs.New(roverrs.ErrPersistence, "record truncated")
	}
	body := data[:len(data)-4]
	stored := binary.LittleEndian.Uint32(data[len(data)-4:])
	if computed := AdditiveChecksum(body); computed != stored {
		return zero, roverrs.ChecksumError(stored, computed)
	}

	var rec netRecordV1
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &rec); err != nil {
		return zero, roverrs.Wrap(err, roverrs.ErrPersistence, "decode network record")
	}
	if rec.Magic != recordMagic || rec.Version != recordVersion {
		return zero, roverrs.New(roverrs.ErrPersistence, "bad network record header")
	}

	return NetworkConfig{
		SSID:      unpackString(rec.SSID),
		Password:  unpackString(rec.Password),
		AuthToken: unpackString(rec.AuthToken),
		TCPPort:   rec.TCPPort,
		HTTPPort:  rec.HTTPPort,
	}, nil
}
