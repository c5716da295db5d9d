package bridge

import "fmt"

// MessagePrefix tags console output carrying bridge messages so the browser
// control can tell them apart from the page's own logging.
const MessagePrefix = "__omx_bridge__:"

// fetchScript builds the routine evaluated inside the page. It fetches with
// the page's own credentials, base64-encodes the body in fixed-size chunks,
// and posts each one as a prefixed console message. The chunk bound keeps
// individual messages under the sandbox's message-size limits.
func fetchScript(sessionID, url string, chunkSize int) string {
	return fmt.Sprintf(`(async () => {
	const sid = %q;
	const target = %q;
	const max = %d;
	const post = (msg) => console.debug(%q + JSON.stringify(msg));
	try {
		const resp = await fetch(target, { credentials: "include" });
		if (!resp.ok) {
			post({ method: "fetchError", sessionId: sid, message: "upstream status " + resp.status });
			return;
		}
		const encode = (bytes) => {
			let bin = "";
			for (let i = 0; i < bytes.length; i += 0x8000) {
				bin += String.fromCharCode.apply(null, bytes.subarray(i, i + 0x8000));
			}
			return btoa(bin);
		};
		const reader = resp.body.getReader();
		let pending = new Uint8Array(0);
		let total = 0;
		for (;;) {
			const { done, value } = await reader.read();
			if (value && value.length) {
				total += value.length;
				const merged = new Uint8Array(pending.length + value.length);
				merged.set(pending);
				merged.set(value, pending.length);
				pending = merged;
				while (pending.length >= max) {
					post({ method: "fetchChunk", sessionId: sid, data: encode(pending.subarray(0, max)) });
					pending = pending.slice(max);
				}
			}
			if (done) {
				if (pending.length) {
					post({ method: "fetchChunk", sessionId: sid, data: encode(pending) });
				}
				post({ method: "fetchComplete", sessionId: sid, totalBytes: total });
				return;
			}
		}
	} catch (err) {
		post({ method: "fetchError", sessionId: sid, message: String(err) });
	}
})();`, sessionID, url, chunkSize, MessagePrefix)
}
