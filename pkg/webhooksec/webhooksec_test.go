package webhooksec

import "testing"

func TestVerify_AcceptsMatchingSignature(t *testing.T) {
	v := NewValidator("test-auth-token")
	params := map[string]string{
		"From":      "+15045550100",
		"Body":      "STOP",
		"MessageSid": "SM123",
	}
	url := "https://example.com/webhooks/sms"
	sig := v.ComputeSignature(url, params)

	if !v.Verify(url, params, sig) {
		t.Fatal("expected matching signature to verify")
	}
}

func TestVerify_RejectsTamperedParams(t *testing.T) {
	v := NewValidator("test-auth-token")
	params := map[string]string{"From": "+15045550100", "Body": "STOP"}
	url := "https://example.com/webhooks/sms"
	sig := v.ComputeSignature(url, params)

	params["Body"] = "interested"
	if v.Verify(url, params, sig) {
		t.Fatal("expected tampered params to fail verification")
	}
}

func TestVerify_RejectsEmptySignature(t *testing.T) {
	v := NewValidator("test-auth-token")
	if v.Verify("https://example.com/webhooks/sms", map[string]string{"Body": "hi"}, "") {
		t.Fatal("expected empty signature to fail closed")
	}
}

func TestVerify_DisabledValidatorAlwaysFails(t *testing.T) {
	v := NewValidator("")
	if v.Verify("https://example.com/webhooks/sms", map[string]string{"Body": "hi"}, "anything") {
		t.Fatal("expected validator with no auth token to fail closed, not skip silently")
	}
}
