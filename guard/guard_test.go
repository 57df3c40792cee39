package guard

import (
	"context"
	"testing"
	"time"
)

func TestIsDeniedPrivateHost(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"", true},
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"93.184.216.34", false}, // example.com public IP
		{"8.8.8.8", false},       // Google DNS
		{"example.com", false},   // non-IP hostname → not denied at literal level
	}
	for _, tc := range cases {
		t.Run(tc.host, func(t *testing.T) {
			got := IsDeniedPrivateHost(tc.host)
			if got != tc.want {
				t.Fatalf("IsDeniedPrivateHost(%q) = %v, want %v", tc.host, got, tc.want)
			}
		})
	}
}

func TestResolveAndCheckHost_LiteralIPs(t *testing.T) {
	// No DNS lookup needed for literal IPs.
	cases := []struct {
		name    string
		host    string
		wantErr bool
	}{
		{"loopback_v4", "127.0.0.1", true},
		{"loopback_v6", "::1", true},
		{"private_10", "10.0.0.1", true},
		{"private_172", "172.16.0.1", true},
		{"private_192", "192.168.1.1", true},
		{"link_local", "169.254.169.254", true},
		{"unspecified", "0.0.0.0", true},
		{"public_ip", "93.184.216.34", false},
		{"empty", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ResolveAndCheckHost(tc.host, true, nil)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ResolveAndCheckHost(%q) error=%v, wantErr=%v", tc.host, err, tc.wantErr)
			}
		})
	}
}

func TestResolveAndCheckHost_DNSResolvesToPrivate(t *testing.T) {
	fakeLookup := func(host string) ([]string, error) {
		// Simulate a hostname that resolves to a private IP.
		return []string{"127.0.0.1"}, nil
	}

	err := ResolveAndCheckHost("evil.example.com", true, fakeLookup)
	if err == nil {
		t.Fatal("expected error for hostname resolving to private IP, got nil")
	}
}

func TestResolveAndCheckHost_DNSResolvesToPublic(t *testing.T) {
	fakeLookup := func(host string) ([]string, error) {
		return []string{"93.184.216.34"}, nil
	}

	err := ResolveAndCheckHost("example.com", true, fakeLookup)
	if err != nil {
		t.Fatalf("expected nil error for public hostname, got: %v", err)
	}
}

func TestResolveAndCheckHost_ResolveDNSFalse(t *testing.T) {
	fakeLookup := func(host string) ([]string, error) {
		// This would return private IP, but ResolveDNS=false should skip it.
		return []string{"127.0.0.1"}, nil
	}

	// With ResolveDNS=false, a non-IP hostname passes (literal check only).
	err := ResolveAndCheckHost("evil.example.com", false, fakeLookup)
	if err != nil {
		t.Fatalf("expected nil error when ResolveDNS=false, got: %v", err)
	}
}

func TestNetworkPolicy_CheckHost(t *testing.T) {
	fakeLookup := func(host string) ([]string, error) {
		switch host {
		case "private.example.com":
			return []string{"10.0.0.1"}, nil
		case "public.example.com":
			return []string{"93.184.216.34"}, nil
		default:
			return []string{"93.184.216.34"}, nil
		}
	}

	pol := NetworkPolicy{
		DenyPrivateIPs: true,
		ResolveDNS:     true,
		LookupHost:     fakeLookup,
	}

	// Private hostname → blocked.
	if err := pol.CheckHost("private.example.com"); err == nil {
		t.Fatal("expected error for private-resolving hostname")
	}

	// Public hostname → allowed.
	if err := pol.CheckHost("public.example.com"); err != nil {
		t.Fatalf("expected nil for public hostname, got: %v", err)
	}

	// Literal private IP → blocked.
	if err := pol.CheckHost("127.0.0.1"); err == nil {
		t.Fatal("expected error for literal private IP")
	}

	// DenyPrivateIPs=false → everything allowed.
	polOpen := NetworkPolicy{DenyPrivateIPs: false, ResolveDNS: true, LookupHost: fakeLookup}
	if err := polOpen.CheckHost("127.0.0.1"); err != nil {
		t.Fatalf("expected nil when DenyPrivateIPs=false, got: %v", err)
	}
}

func TestGuard_SSRFDNSResolve(t *testing.T) {
	fakeLookup := func(host string) ([]string, error) {
		switch host {
		case "evil.test":
			return []string{"127.0.0.1"}, nil
		default:
			return []string{"93.184.216.34"}, nil
		}
	}

	g := New(Config{
		Enabled: true,
		Network: NetworkConfig{
			URLFetch: URLFetchNetworkPolicy{
				AllowedURLPrefixes: []string{"https://"},
				DenyPrivateIPs:     true,
				ResolveDNS:         true,
			},
		},
	}, nil, nil)
	g.SetLookupHost(fakeLookup)

	ctx := context.Background()
	meta := Meta{RunID: "test"}

	// Hostname resolving to private IP → deny.
	res, err := g.Evaluate(ctx, meta, Action{
		Type:       ActionFunctionCall,
		ToolName:   "url_fetch",
		CallID:     "call_1",
		ToolParams: map[string]any{"url": "https://evil.test/metadata"},
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if res.Decision != DecisionDeny {
		t.Fatalf("expected deny for private-resolving host, got %s (reasons=%v)", res.Decision, res.Reasons)
	}
}

func TestGuard_SSRFPublicAllowed(t *testing.T) {
	fakeLookup := func(host string) ([]string, error) {
		return []string{"93.184.216.34"}, nil
	}

	g := New(Config{
		Enabled: true,
		Network: NetworkConfig{
			URLFetch: URLFetchNetworkPolicy{
				AllowedURLPrefixes: []string{"https://"},
				DenyPrivateIPs:     true,
				ResolveDNS:         true,
			},
		},
	}, nil, nil)
	g.SetLookupHost(fakeLookup)

	ctx := context.Background()
	meta := Meta{RunID: "test"}

	res, err := g.Evaluate(ctx, meta, Action{
		Type:       ActionFunctionCall,
		ToolName:   "url_fetch",
		CallID:     "call_2",
		ToolParams: map[string]any{"url": "https://public.example.com/api"},
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if res.Decision != DecisionAllow {
		t.Fatalf("expected allow for public host, got %s (reasons=%v)", res.Decision, res.Reasons)
	}
}

func TestGuard_SSRFLiteralPrivateIP(t *testing.T) {
	g := New(Config{
		Enabled: true,
		Network: NetworkConfig{
			URLFetch: URLFetchNetworkPolicy{
				AllowedURLPrefixes: []string{"http://"},
				DenyPrivateIPs:     true,
				ResolveDNS:         true,
			},
		},
	}, nil, nil)

	ctx := context.Background()
	meta := Meta{RunID: "test"}

	res, err := g.Evaluate(ctx, meta, Action{
		Type:       ActionFunctionCall,
		ToolName:   "url_fetch",
		CallID:     "call_3",
		ToolParams: map[string]any{"url": "http://169.254.169.254/latest/meta-data/"},
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if res.Decision != DecisionDeny {
		t.Fatalf("expected deny for literal private IP, got %s", res.Decision)
	}
}

func TestURLAllowedByPrefixes(t *testing.T) {
	cases := []struct {
		name     string
		url      string
		prefixes []string
		want     bool
	}{
		{"match", "https://api.example.com/v1/data", []string{"https://api.example.com/"}, true},
		{"no_match", "https://evil.com/exfil", []string{"https://api.example.com/"}, false},
		{"empty_prefixes", "https://anything.com/", nil, false},
		{"empty_url", "", []string{"https://api.example.com/"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := URLAllowedByPrefixes(tc.url, tc.prefixes)
			if got != tc.want {
				t.Fatalf("URLAllowedByPrefixes(%q, %v) = %v, want %v", tc.url, tc.prefixes, got, tc.want)
			}
		})
	}
}

func TestGuard_ToolPolicyPrecedence(t *testing.T) {
	g := New(Config{
		Enabled: true,
		Tools: ToolsConfig{
			RequireApproval: []string{"send_email", "delete_records"},
			AutoApprove:     []string{"send_email"},
			Deny:            []string{"drop_database"},
		},
	}, nil, nil)

	ctx := context.Background()
	meta := Meta{RunID: "test"}

	// Deny list wins outright.
	res, err := g.Evaluate(ctx, meta, Action{Type: ActionFunctionCall, ToolName: "drop_database", CallID: "c1"})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if res.Decision != DecisionDeny {
		t.Fatalf("expected deny for denied tool, got %s", res.Decision)
	}

	// AutoApprove overrides RequireApproval for the same name.
	res, err = g.Evaluate(ctx, meta, Action{Type: ActionFunctionCall, ToolName: "send_email", CallID: "c2"})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if res.Decision != DecisionAllow {
		t.Fatalf("expected allow for auto-approved tool, got %s", res.Decision)
	}

	// Plain RequireApproval entry.
	res, err = g.Evaluate(ctx, meta, Action{Type: ActionFunctionCall, ToolName: "delete_records", CallID: "c3"})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if res.Decision != DecisionRequireApproval {
		t.Fatalf("expected require_approval, got %s", res.Decision)
	}

	if !g.RequiresApproval(Action{Type: ActionFunctionCall, ToolName: "delete_records"}) {
		t.Fatal("RequiresApproval should report true for listed tool")
	}
	if g.RequiresApproval(Action{Type: ActionFunctionCall, ToolName: "send_email"}) {
		t.Fatal("RequiresApproval should report false for auto-approved tool")
	}
}

func TestGuard_ShellRequiresApproval(t *testing.T) {
	g := New(Config{
		Enabled: true,
		Shell:   ShellConfig{RequireApproval: true},
	}, nil, nil)

	res, err := g.Evaluate(context.Background(), Meta{RunID: "test"}, Action{
		Type:   ActionShellCall,
		CallID: "sh1",
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if res.Decision != DecisionRequireApproval {
		t.Fatalf("expected require_approval for shell call, got %s", res.Decision)
	}
	if res.RiskLevel != RiskHigh {
		t.Fatalf("expected high risk for shell call, got %s", res.RiskLevel)
	}
}

func TestGuard_DisabledAllowsEverything(t *testing.T) {
	g := New(Config{
		Enabled: false,
		Tools:   ToolsConfig{Deny: []string{"drop_database"}},
	}, nil, nil)

	res, err := g.Evaluate(context.Background(), Meta{RunID: "test"}, Action{
		Type:     ActionFunctionCall,
		ToolName: "drop_database",
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if res.Decision != DecisionAllow {
		t.Fatalf("disabled guard should allow, got %s", res.Decision)
	}
}

func TestActionHash_StableAcrossParamOrder(t *testing.T) {
	a := Action{
		Type:       ActionFunctionCall,
		ToolName:   "send_email",
		CallID:     "call_9",
		ToolParams: map[string]any{"to": "a@example.com", "subject": "hi", "body": "hello"},
	}
	b := Action{
		Type:       ActionFunctionCall,
		ToolName:   "send_email",
		CallID:     "call_9",
		ToolParams: map[string]any{"body": "hello", "to": "a@example.com", "subject": "hi"},
	}

	ha, err := ActionHash(a)
	if err != nil {
		t.Fatalf("ActionHash: %v", err)
	}
	hb, err := ActionHash(b)
	if err != nil {
		t.Fatalf("ActionHash: %v", err)
	}
	if ha != hb {
		t.Fatalf("hashes differ for structurally equal actions: %s vs %s", ha, hb)
	}

	c := a
	c.ToolParams = map[string]any{"to": "b@example.com", "subject": "hi", "body": "hello"}
	hc, err := ActionHash(c)
	if err != nil {
		t.Fatalf("ActionHash: %v", err)
	}
	if hc == ha {
		t.Fatal("hash should change when params change")
	}
}

func TestMemoryApprovalStore_Lifecycle(t *testing.T) {
	store := NewMemoryApprovalStore()
	ctx := context.Background()

	id, err := store.Create(ctx, ApprovalRecord{
		RunID:    "run_1",
		ToolName: "send_email",
		CallID:   "call_1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("Create should assign an id")
	}

	got, found, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("Get should find the created record")
	}
	if got.Status != ApprovalPending {
		t.Fatalf("new record should be pending, got %s", got.Status)
	}
	if got.CallID != "call_1" {
		t.Fatalf("Get returned wrong record: %+v", got)
	}

	byCall, found, err := store.GetByCall(ctx, "send_email", "call_1")
	if err != nil {
		t.Fatalf("GetByCall: %v", err)
	}
	if !found {
		t.Fatal("GetByCall should find the record")
	}
	if byCall.ID != id {
		t.Fatalf("GetByCall returned %s, want %s", byCall.ID, id)
	}

	pending, err := store.ListPending(ctx, "run_1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}

	if err := store.Resolve(ctx, id, ApprovalApproved, "tester", "looks fine"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, _, err = store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after resolve: %v", err)
	}
	if got.Status != ApprovalApproved {
		t.Fatalf("expected approved, got %s", got.Status)
	}
	if got.Actor != "tester" {
		t.Fatalf("expected actor recorded, got %q", got.Actor)
	}
	if got.ResolvedAt == nil {
		t.Fatal("expected ResolvedAt to be set")
	}

	// Resolving twice fails: the record is no longer pending.
	if err := store.Resolve(ctx, id, ApprovalRejected, "tester", ""); err == nil {
		t.Fatal("expected error resolving a non-pending record")
	}

	if _, found, err := store.Get(ctx, "apr_missing"); err != nil || found {
		t.Fatalf("unknown id should report not found, got found=%v err=%v", found, err)
	}
}

func TestApprovalRecord_State(t *testing.T) {
	now := time.Now().UTC()

	rec := ApprovalRecord{Status: ApprovalPending, ExpiresAt: now.Add(time.Hour)}
	if got := rec.State(now); got != StateUndecided {
		t.Fatalf("pending unexpired should be undecided, got %v", got)
	}

	rec.Status = ApprovalApproved
	if got := rec.State(now); got != StateApproved {
		t.Fatalf("approved should map to approved, got %v", got)
	}

	rec.Status = ApprovalRejected
	if got := rec.State(now); got != StateRejected {
		t.Fatalf("rejected should map to rejected, got %v", got)
	}

	// Expired pending records stay undecided rather than flipping to
	// rejected; the engine refuses to resume them instead.
	rec = ApprovalRecord{Status: ApprovalPending, ExpiresAt: now.Add(-time.Minute)}
	if !rec.Expired(now) {
		t.Fatal("record past ExpiresAt should report expired")
	}
	if got := rec.State(now); got != StateUndecided {
		t.Fatalf("expired pending should be undecided, got %v", got)
	}
}

func TestRedactor(t *testing.T) {
	r := NewRedactor(RedactionConfig{Enabled: true})

	in := "api_key=sk-abcdef1234567890 plus Bearer abcdefghijklmnop"
	out, changed := r.RedactString(in)
	if !changed {
		t.Fatal("expected redaction to fire")
	}
	if out == in {
		t.Fatal("output should differ from input")
	}

	params, changed := r.RedactParams(map[string]any{
		"url":   "https://example.com",
		"token": "super-secret-value",
	})
	if !changed {
		t.Fatal("expected param redaction to fire")
	}
	if params["token"] != "[redacted]" {
		t.Fatalf("token should be redacted, got %v", params["token"])
	}
	if params["url"] != "https://example.com" {
		t.Fatalf("url should be untouched, got %v", params["url"])
	}
}
