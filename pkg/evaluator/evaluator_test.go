package evaluator

import "testing"

func TestParseEvalResponseStripsFences(t *testing.T) {
	raw := "```json\n{\"social_updates\":[{\"target_user\":\"alice\",\"role\":\"chat_partner\",\"actual_perception_delta\":{\"affinity\":0.2}}]}\n```"
	resp, err := parseEvalResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.SocialUpdates) != 1 || resp.SocialUpdates[0].TargetUser != "alice" {
		t.Fatalf("unexpected parse result: %+v", resp)
	}
	if resp.SocialUpdates[0].ActualPerceptionDelta.Affinity != 0.2 {
		t.Fatalf("unexpected affinity delta: %+v", resp.SocialUpdates[0].ActualPerceptionDelta)
	}
}

func TestParseEvalResponseRejectsGarbage(t *testing.T) {
	if _, err := parseEvalResponse("not json at all"); err == nil {
		t.Fatal("expected parse error for non-JSON content")
	}
}
