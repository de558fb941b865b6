package browser

import (
	"encoding/json"

	"FeedGuard/internal/platform"
)

// keyAttr tags every matched element with a per-instance key. A recreated node
// gets a fresh key, which is how stale handles are told apart.
const keyAttr = "data-feedguard-key"

// helpersJS is prepended to every script that needs to read item nodes.
const helpersJS = `
const fgSelector = (p) => p.interstitialSelector ? p.itemSelector + ', ' + p.interstitialSelector : p.itemSelector;
const fgByKey = (key) => document.querySelector('[data-feedguard-key="' + key + '"]');
const fgRawID = (p, el) => {
	if (p.idAttr) return el.getAttribute(p.idAttr) || '';
	if (p.idSelector) {
		const t = el.querySelector(p.idSelector);
		return t ? (t.getAttribute(p.idSourceAttr) || '') : '';
	}
	return '';
};
`

const scanJS = `(p) => {` + helpersJS + `
	const w = window;
	w.__feedguardSeq = w.__feedguardSeq || 0;
	const vh = window.innerHeight || 0;
	const out = [];
	for (const el of document.querySelectorAll(fgSelector(p))) {
		if (!el.dataset.feedguardKey) el.dataset.feedguardKey = String(++w.__feedguardSeq);
		const rect = el.getBoundingClientRect();
		const row = {
			key: el.dataset.feedguardKey,
			visible: rect.bottom > -vh && rect.top < 2 * vh && el.getAttribute('aria-hidden') !== 'true' && !el.hidden,
			interstitial: !!(p.interstitialSelector && el.matches(p.interstitialSelector)),
			rawId: '',
			group: '',
			fields: {},
		};
		if (!row.interstitial) {
			row.rawId = fgRawID(p, el);
			if (p.groupAttr) row.group = el.getAttribute(p.groupAttr) || '';
			else if (p.groupSelector) {
				const g = el.querySelector(p.groupSelector);
				row.group = g ? g.textContent : '';
			}
			for (const [name, f] of Object.entries(p.fields || {})) {
				const t = f.selector ? el.querySelector(f.selector) : el;
				if (!t) continue;
				const v = f.attr ? t.getAttribute(f.attr) : t.textContent;
				if (v) row.fields[name] = v;
			}
		}
		out.push(row);
	}
	return out;
}`

const liveJS = `(p, key) => {` + helpersJS + `
	const el = fgByKey(key);
	if (!el || !el.isConnected) return null;
	return fgRawID(p, el);
}`

const hasBadgeJS = `(key) => {` + helpersJS + `
	const el = fgByKey(key);
	return !!(el && el.querySelector(':scope > [data-feedguard-badge]'));
}`

const badgeJS = `(key, d) => {` + helpersJS + `
	const el = fgByKey(key);
	if (!el) return false;
	let badge = el.querySelector(':scope > [data-feedguard-badge]');
	if (!badge) {
		badge = document.createElement('span');
		badge.setAttribute('data-feedguard-badge', '');
		badge.style.cssText = 'display:inline-block;margin:4px;padding:1px 6px;border-radius:8px;font:12px sans-serif;color:#fff;';
		el.prepend(badge);
	}
	const colors = { low: '#2e7d32', medium: '#f9a825', high: '#c62828' };
	badge.dataset.kind = d.kind;
	badge.textContent = d.label;
	badge.title = d.reason || '';
	badge.style.background = d.kind === 'scored' ? (colors[d.bucket] || '#616161') : '#616161';
	return true;
}`

const blurJS = `(key, kind) => {` + helpersJS + `
	const el = fgByKey(key);
	if (!el) return false;
	const filters = { pending: 'blur(4px)', engaged: 'blur(12px)' };
	el.dataset.feedguardBlur = kind;
	el.style.filter = filters[kind] || '';
	el.style.transition = 'filter 150ms ease-out';
	return true;
}`

const containerJS = `(p, keys) => {` + helpersJS + `
	if (!p.containerSelector) return '';
	for (const c of document.querySelectorAll(p.containerSelector)) {
		if (keys.every((k) => { const el = fgByKey(k); return el && c.contains(el); })) {
			if (!c.dataset.feedguardContainer) c.dataset.feedguardContainer = String(Date.now()) + Math.random().toString(16).slice(2, 8);
			return c.dataset.feedguardContainer;
		}
	}
	return '';
}`

const orderJS = `(container, sequence, hidden) => {` + helpersJS + `
	const c = document.querySelector('[data-feedguard-container="' + container + '"]');
	if (!c) return false;
	const wrap = (el) => {
		let n = el;
		while (n.parentElement && n.parentElement !== c) n = n.parentElement;
		return n.parentElement === c ? n : null;
	};
	const frag = document.createDocumentFragment();
	for (const key of sequence) {
		const el = fgByKey(key);
		const slot = el && wrap(el);
		if (!slot) continue;
		el.style.display = '';
		delete el.dataset.feedguardHidden;
		frag.appendChild(slot);
	}
	for (const key of hidden) {
		const el = fgByKey(key);
		const slot = el && wrap(el);
		if (!slot) continue;
		el.style.display = 'none';
		el.dataset.feedguardHidden = 'true';
		frag.appendChild(slot);
	}
	c.prepend(frag);
	return true;
}`

// pollJS installs the page hooks once per document and drains what they saw.
const pollJS = `(p) => {` + helpersJS + `
	const w = window;
	if (!w.__feedguardHooked) {
		w.__feedguardHooked = true;
		w.__feedguardMutations = 0;
		w.__feedguardEvents = [];
		new MutationObserver(() => { w.__feedguardMutations++; })
			.observe(document.documentElement || document.body, { childList: true, subtree: true });
		const hover = (type) => (ev) => {
			const item = ev.target && ev.target.closest ? ev.target.closest(p.itemSelector) : null;
			if (!item || !item.dataset.feedguardKey) return;
			if (ev.relatedTarget && item.contains(ev.relatedTarget)) return;
			w.__feedguardEvents.push({ type, key: item.dataset.feedguardKey });
		};
		document.addEventListener('mouseover', hover('enter'), true);
		document.addEventListener('mouseout', hover('leave'), true);
	}
	const events = w.__feedguardEvents.splice(0);
	return {
		url: location.href,
		mutations: w.__feedguardMutations,
		visible: document.visibilityState === 'visible',
		events,
	};
}`

type jsField struct {
	Selector string `json:"selector,omitempty"`
	Attr     string `json:"attr,omitempty"`
}

// jsProfile is the subset of a platform profile the page scripts read.
type jsProfile struct {
	ItemSelector         string             `json:"itemSelector"`
	InterstitialSelector string             `json:"interstitialSelector,omitempty"`
	ContainerSelector    string             `json:"containerSelector,omitempty"`
	IDAttr               string             `json:"idAttr,omitempty"`
	IDSelector           string             `json:"idSelector,omitempty"`
	IDSourceAttr         string             `json:"idSourceAttr,omitempty"`
	GroupAttr            string             `json:"groupAttr,omitempty"`
	GroupSelector        string             `json:"groupSelector,omitempty"`
	Fields               map[string]jsField `json:"fields,omitempty"`
}

func newJSProfile(p platform.Profile) jsProfile {
	fields := make(map[string]jsField, len(p.Fields))
	for name, f := range p.Fields {
		fields[name] = jsField{Selector: f.Selector, Attr: f.Attr}
	}
	return jsProfile{
		ItemSelector:         p.ItemSelector,
		InterstitialSelector: p.InterstitialSelector,
		ContainerSelector:    p.ContainerSelector,
		IDAttr:               p.IDAttr,
		IDSelector:           p.IDSelector,
		IDSourceAttr:         p.IDSourceAttr,
		GroupAttr:            p.GroupAttr,
		GroupSelector:        p.GroupSelector,
		Fields:               fields,
	}
}

// decode converts an evaluated value into v.
func decode(raw json.Marshaler, v any) error {
	data, err := raw.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
