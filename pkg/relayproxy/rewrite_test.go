package relayproxy

import "testing"

func TestRewriteManifest(t *testing.T) {
	const manifestURL = "https://cdn.example.com/hls/master.m3u8"
	const relayBase = "http://127.0.0.1:40000"

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "relative variant routed through relay",
			body: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nchunklist_720.m3u8\n",
			want: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\n" +
				relayBase + "/https://cdn.example.com/hls/chunklist_720.m3u8\n",
		},
		{
			name: "absolute segment routed through relay",
			body: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\nhttps://media.other.net/seg/0001.ts\n#EXT-X-ENDLIST\n",
			want: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXTINF:4.0,\n" +
				relayBase + "/https://media.other.net/seg/0001.ts\n#EXT-X-ENDLIST\n",
		},
		{
			name: "key tag URI rewritten in place",
			body: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\",IV=0x1\n#EXTINF:4.0,\nseg.ts\n#EXT-X-ENDLIST\n",
			want: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-KEY:METHOD=AES-128,URI=\"" +
				relayBase + "/https://cdn.example.com/hls/key.bin\",IV=0x1\n#EXTINF:4.0,\n" +
				relayBase + "/https://cdn.example.com/hls/seg.ts\n#EXT-X-ENDLIST\n",
		},
		{
			name: "dash body unchanged",
			body: `<?xml version="1.0"?><MPD><Period></Period></MPD>`,
			want: `<?xml version="1.0"?><MPD><Period></Period></MPD>`,
		},
		{
			name: "non-manifest body unchanged",
			body: "just some text\nwith lines\n",
			want: "just some text\nwith lines\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rewriteManifest(tt.body, manifestURL, relayBase); got != tt.want {
				t.Errorf("rewriteManifest() = %q, want %q", got, tt.want)
			}
		})
	}
}
