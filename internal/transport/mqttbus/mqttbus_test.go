package mqttbus

import (
	"testing"

	"github.com/kabili207/meshrouted/internal/packet"
)

func TestTopicForUsesConfiguredPrefix(t *testing.T) {
	tr := New(Config{TopicPrefix: "custom"})
	if got := tr.topicFor("A"); got != "custom/A" {
		t.Errorf("topicFor(A) = %q, want custom/A", got)
	}
}

func TestDefaultTopicPrefixApplied(t *testing.T) {
	tr := New(Config{})
	if got := tr.topicFor("A"); got != DefaultTopicPrefix+"/A" {
		t.Errorf("topicFor(A) = %q, want %s/A", got, DefaultTopicPrefix)
	}
}

func TestSendToUnknownNeighborErrors(t *testing.T) {
	tr := New(Config{
		SelfID:           "A",
		SelfChannel:      "A",
		NeighborChannels: map[string]string{"B": "B"},
	})
	if err := tr.SendTo("Z", &packet.Packet{}); err == nil {
		t.Error("SendTo an unconfigured peer should return an error")
	}
}

func TestPublishWithoutConnectionErrors(t *testing.T) {
	tr := New(Config{
		SelfID:           "A",
		SelfChannel:      "A",
		NeighborChannels: map[string]string{"B": "B"},
	})
	if err := tr.SendTo("B", &packet.Packet{Type: packet.TypeHello, From: "A"}); err == nil {
		t.Error("publishing before Start/connect should error")
	}
}
