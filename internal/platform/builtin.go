package platform

import "regexp"

var (
	tweetStatusExpr   = regexp.MustCompile(`/status/(\d+)`)
	youtubeWatchExpr  = regexp.MustCompile(`[?&]v=([\w-]{6,})`)
	instagramPostExpr = regexp.MustCompile(`/(?:p|reel)/([\w-]+)`)
)

// Reddit is the new-reddit feed built from shreddit-post elements.
func Reddit() Profile {
	return Profile{
		Name:                 "reddit",
		Hosts:                []string{"reddit.com"},
		ItemSelector:         "shreddit-post",
		InterstitialSelector: "shreddit-ad-post, faceplate-tracker[noun=ad]",
		ContainerSelector:    "shreddit-feed",
		IDAttr:               "id",
		GroupAttr:            "subreddit-prefixed-name",
		Fields: map[string]Field{
			"title":    {Attr: "post-title"},
			"score":    {Attr: "score"},
			"comments": {Attr: "comment-count"},
			"author":   {Attr: "author"},
			"body":     {Selector: "div[slot=text-body]"},
		},
		ReorderSafe: true,
	}
}

// Twitter is the home timeline. Cells are absolutely positioned by the host,
// so moving them breaks the virtual list.
func Twitter() Profile {
	return Profile{
		Name:                 "twitter",
		Hosts:                []string{"x.com", "twitter.com"},
		ItemSelector:         `article[data-testid="tweet"]`,
		InterstitialSelector: `div[data-testid="placementTracking"]`,
		ContainerSelector:    `div[aria-label^="Timeline"]`,
		IDSelector:           `a[href*="/status/"]`,
		IDSourceAttr:         "href",
		IDPattern:            tweetStatusExpr,
		GroupSelector:        `div[data-testid="User-Name"] a[href^="/"] span`,
		GroupPrefix:          "@",
		Fields: map[string]Field{
			"text":     {Selector: `div[data-testid="tweetText"]`},
			"replies":  {Selector: `button[data-testid="reply"]`, Attr: "aria-label"},
			"retweets": {Selector: `button[data-testid="retweet"]`, Attr: "aria-label"},
			"likes":    {Selector: `button[data-testid="like"]`, Attr: "aria-label"},
		},
	}
}

// YouTube is the home grid of rich items.
func YouTube() Profile {
	return Profile{
		Name:                 "youtube",
		Hosts:                []string{"youtube.com"},
		ItemSelector:         "ytd-rich-item-renderer",
		InterstitialSelector: "ytd-ad-slot-renderer, ytd-rich-section-renderer",
		ContainerSelector:    "ytd-rich-grid-renderer #contents",
		IDSelector:           "a#video-title-link, a#thumbnail",
		IDSourceAttr:         "href",
		IDPattern:            youtubeWatchExpr,
		GroupSelector:        "ytd-channel-name a",
		Fields: map[string]Field{
			"title":    {Selector: "#video-title"},
			"views":    {Selector: "#metadata-line span"},
			"duration": {Selector: "ytd-thumbnail-overlay-time-status-renderer"},
		},
		ReorderSafe: true,
	}
}

// Instagram is the home feed of article posts.
func Instagram() Profile {
	return Profile{
		Name:          "instagram",
		Hosts:         []string{"instagram.com"},
		ItemSelector:  "article",
		IDSelector:    `a[href*="/p/"], a[href*="/reel/"]`,
		IDSourceAttr:  "href",
		IDPattern:     instagramPostExpr,
		GroupSelector: "header a[role=link]",
		GroupPrefix:   "@",
		Fields: map[string]Field{
			"caption": {Selector: "h1"},
			"likes":   {Selector: "section a[href$=\"/liked_by/\"] span"},
		},
	}
}

// Builtin returns a registry holding every supported platform.
func Builtin() *Registry {
	r := NewRegistry()
	for _, p := range []Profile{Reddit(), Twitter(), YouTube(), Instagram()} {
		r.Register(p)
	}
	return r
}
