// browser/session/scripts.go
package session

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotScript tags every element with its index, measures it and returns
// a dom.Snapshot. The tags stay on the live page so later calls can address
// elements by index.
var snapshotScript = fmt.Sprintf(`(() => {
  const IDX = %q;
  const props = ["position", "overflow", "overflow-x", "overflow-y", "height", "min-height",
    "max-height", "display", "top", "bottom", "left", "right", "z-index", "width", "font-size", "visibility"];
  const elements = [];
  Array.from(document.querySelectorAll("*")).forEach((el, i) => {
    el.setAttribute(IDX, String(i));
    const r = el.getBoundingClientRect();
    const cs = getComputedStyle(el);
    const computed = {};
    props.forEach(p => { computed[p] = cs.getPropertyValue(p); });
    const snap = {
      index: i,
      scrollHeight: el.scrollHeight,
      clientHeight: el.clientHeight,
      rect: {x: r.x, y: r.y, width: r.width, height: r.height},
      computed: computed,
    };
    if (el.tagName === "IFRAME") {
      try {
        const d = el.contentDocument;
        if (d && d.documentElement) snap.frameHeight = d.documentElement.scrollHeight;
      } catch (e) {}
    }
    if (el instanceof HTMLMediaElement) {
      snap.media = {paused: el.paused, currentTime: el.currentTime, readyState: el.readyState};
    }
    elements.push(snap);
  });
  const styleSheets = [];
  Array.from(document.styleSheets).forEach(s => {
    const owner = s.ownerNode;
    if (!owner || owner.tagName !== "LINK") return;
    const entry = {ownerIndex: Number(owner.getAttribute(IDX)), href: s.href || "", readable: false};
    try {
      entry.text = Array.from(s.cssRules).map(r => r.cssText).join("\n");
      entry.readable = true;
    } catch (e) {}
    styleSheets.push(entry);
  });
  const doctype = document.doctype ? "<!DOCTYPE " + document.doctype.name + ">" : "";
  return {
    url: location.href,
    html: doctype + document.documentElement.outerHTML,
    viewport: {x: 0, y: 0, width: innerWidth, height: innerHeight},
    elements: elements,
    styleSheets: styleSheets,
  };
})()`, dom.IndexAttr)

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func elementRef(index int) string {
	return fmt.Sprintf(`document.querySelector(%s)`, jsString(fmt.Sprintf(`[%s="%d"]`, dom.IndexAttr, index)))
}

func overlaySelector(id string) string {
	return jsString(fmt.Sprintf(`[data-shotprep-overlay=%q]`, id))
}

func showOverlayScript(id, markup string) string {
	return fmt.Sprintf(`(() => {
  const old = document.querySelector(%s);
  if (old) old.remove();
  const t = document.createElement("template");
  t.innerHTML = %s;
  const el = t.content.firstElementChild;
  if (!el) return false;
  (document.body || document.documentElement).appendChild(el);
  return true;
})()`, overlaySelector(id), jsString(markup))
}

func removeOverlayScript(id string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (el) el.remove();
  return !!el;
})()`, overlaySelector(id))
}

func mediaStateScript(index int) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return null;
  return {paused: el.paused, currentTime: el.currentTime, readyState: el.readyState};
})()`, elementRef(index))
}

func mediaPauseScript(index int) string {
	return fmt.Sprintf(`(() => { const el = %s; if (el) el.pause(); return !!el; })()`, elementRef(index))
}

func mediaSeekScript(index int, t float64) string {
	return fmt.Sprintf(`(() => { const el = %s; if (el) el.currentTime = %g; return !!el; })()`, elementRef(index), t)
}

// mediaPlayScript resolves to "" on success and to the rejection name otherwise.
func mediaPlayScript(index int) string {
	return fmt.Sprintf(`(async () => {
  const el = %s;
  if (!el) return "NotFoundError";
  try { await el.play(); return ""; } catch (e) { return e && e.name ? e.name : "Error"; }
})()`, elementRef(index))
}
