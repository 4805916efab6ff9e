// Package rtcpfb builds and dispatches the RTCP feedback messages the
// core needs: NACK (retransmit requests), PLI (keyframe requests) and
// the inbound SR/RR/XR-RRTR handling used for RTT and loss stats.
package rtcpfb

import (
	"github.com/pion/rtcp"
)

// BuildNACK packs a set of missing sequence numbers into as few
// TransportLayerNack packets as possible (each covers a base sequence
// plus up to 16 more via a bitmask).
func BuildNACK(ssrc uint32, seqs []uint16) []rtcp.Packet {
	if len(seqs) == 0 {
		return nil
	}

	var out []rtcp.Packet
	i := 0
	for i < len(seqs) {
		base := seqs[i]
		var mask uint16
		j := i + 1
		for j < len(seqs) {
			delta := seqs[j] - base
			if delta == 0 || delta > 16 {
				break
			}
			mask |= 1 << (delta - 1)
			j++
		}
		out = append(out, &rtcp.TransportLayerNack{
			SenderSSRC: ssrc,
			MediaSSRC:  ssrc,
			Nacks: []rtcp.NackPair{{
				PacketID:    base,
				LostPackets: rtcp.PacketBitmap(mask),
			}},
		})
		i = j
	}
	return out
}

// BuildPLI requests a new keyframe for mediaSSRC.
func BuildPLI(senderSSRC, mediaSSRC uint32) rtcp.Packet {
	return &rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: mediaSSRC}
}

// BuildRR builds a receiver report for one source from running stats.
func BuildRR(senderSSRC uint32, report rtcp.ReceptionReport) rtcp.Packet {
	return &rtcp.ReceiverReport{SSRC: senderSSRC, Reports: []rtcp.ReceptionReport{report}}
}

// BuildXRRRTR builds an Extended Report carrying a Receiver Reference
// Time Report block, used by the peer to compute round-trip time on
// the next DLRR.
func BuildXRRRTR(senderSSRC uint32, ntp uint64) rtcp.Packet {
	return &rtcp.ExtendedReport{
		SenderSSRC: senderSSRC,
		Reports: []rtcp.ReportBlock{
			&rtcp.ReceiverReferenceTimeReportBlock{NTPTimestamp: ntp},
		},
	}
}

// Split breaks a compound RTCP buffer into individual packets,
// mirroring how an inbound UDP datagram may bundle SR+SDES+RR etc.
func Split(buf []byte) ([]rtcp.Packet, error) {
	return rtcp.Unmarshal(buf)
}

// Dispatch routes each decoded packet in a compound RTCP buffer to the
// matching handler. Handlers may be nil, in which case that type is
// ignored.
type Dispatch struct {
	OnSenderReport   func(*rtcp.SenderReport)
	OnReceiverReport func(*rtcp.ReceiverReport)
	OnNack           func(*rtcp.TransportLayerNack)
	OnPLI            func(*rtcp.PictureLossIndication)
	OnFIR            func(*rtcp.FullIntraRequest)
	OnXR             func(*rtcp.ExtendedReport)
}

// Run splits buf and invokes the matching handler for each packet.
func (d *Dispatch) Run(buf []byte) error {
	pkts, err := Split(buf)
	if err != nil {
		return err
	}
	for _, p := range pkts {
		switch v := p.(type) {
		case *rtcp.SenderReport:
			if d.OnSenderReport != nil {
				d.OnSenderReport(v)
			}
		case *rtcp.ReceiverReport:
			if d.OnReceiverReport != nil {
				d.OnReceiverReport(v)
			}
		case *rtcp.TransportLayerNack:
			if d.OnNack != nil {
				d.OnNack(v)
			}
		case *rtcp.PictureLossIndication:
			if d.OnPLI != nil {
				d.OnPLI(v)
			}
		case *rtcp.FullIntraRequest:
			if d.OnFIR != nil {
				d.OnFIR(v)
			}
		case *rtcp.ExtendedReport:
			if d.OnXR != nil {
				d.OnXR(v)
			}
		}
	}
	return nil
}
