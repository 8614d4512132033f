package wire

import (
	"errors"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMsg() *dns.Msg {
	m := new(dns.Msg)
	m.RecursionDesired = true
	m.SetQuestion("host.ex.tld.", dns.TypeA)
	m.Id = 0x1234
	m.Answer = []dns.RR{
		mustRR("host.ex.tld. 300 IN A 10.0.0.4"),
		mustRR("host.ex.tld. 300 IN CNAME other.ex.tld."),
	}
	m.Ns = []dns.RR{
		mustRR("ex.tld. 3600 IN NS ns.ex.tld."),
	}
	m.Extra = []dns.RR{
		mustRR("ns.ex.tld. 3600 IN A 10.0.0.3"),
	}
	return m
}

func mustRR(s string) dns.RR {
	rr, err := dns.NewRR(s)
	if err != nil {
		panic(err)
	}
	return rr
}

func TestRoundTrip(t *testing.T) {
	m := sampleMsg()

	buf, err := Pack(m)
	require.NoError(t, err)

	got, err := Unpack(buf)
	require.NoError(t, err)

	assert.Equal(t, m.Id, got.Id)
	assert.Equal(t, m.Question, got.Question)
	assert.Equal(t, m.RecursionDesired, got.RecursionDesired)
	require.Len(t, got.Answer, len(m.Answer))
	for i := range m.Answer {
		assert.Equal(t, m.Answer[i].String(), got.Answer[i].String())
	}
	require.Len(t, got.Ns, len(m.Ns))
	assert.Equal(t, m.Ns[0].String(), got.Ns[0].String())
	require.Len(t, got.Extra, len(m.Extra))
	assert.Equal(t, m.Extra[0].String(), got.Extra[0].String())
}

func TestRoundTrip_Flags(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeMX)
	m.Id = 0xbeef
	m.Response = true
	m.Authoritative = true
	m.Rcode = dns.RcodeNameError

	buf, err := Pack(m)
	require.NoError(t, err)

	got, err := Unpack(buf)
	require.NoError(t, err)
	assert.True(t, got.Response)
	assert.True(t, got.Authoritative)
	assert.Equal(t, dns.RcodeNameError, got.Rcode)
	assert.Equal(t, uint16(0xbeef), got.Id)
}

func TestUnpack_Truncated(t *testing.T) {
	m := sampleMsg()
	buf, err := Pack(m)
	require.NoError(t, err)

	_, err = Unpack(buf[:8])
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestUnpack_Garbage(t *testing.T) {
	// A header claiming sections that are not there.
	buf := make([]byte, 12)
	buf[4], buf[5] = 0x00, 0x05 // QDCOUNT=5, no question bytes follow
	_, err := Unpack(buf)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestSniffHeader(t *testing.T) {
	m := sampleMsg()
	m.Response = true
	m.Opcode = dns.OpcodeStatus
	buf, err := Pack(m)
	require.NoError(t, err)

	h, err := SniffHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), h.ID)
	assert.True(t, h.QR)
	assert.Equal(t, uint8(dns.OpcodeStatus), h.Opcode)
	assert.Equal(t, uint16(1), h.QDCount)
	assert.Equal(t, uint16(2), h.ANCount)
}

func TestSniffHeader_Short(t *testing.T) {
	_, err := SniffHeader([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}
