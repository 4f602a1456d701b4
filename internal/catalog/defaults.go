package catalog

// Default returns the built-in site list.
func Default() Catalog {
	return Catalog{
		{Name: "GitHub", URLTemplate: "https://github.com/{username}"},
		{Name: "Twitter", URLTemplate: "https://twitter.com/{username}"},
		{Name: "Instagram", URLTemplate: "https://www.instagram.com/{username}/"},
		{Name: "TikTok", URLTemplate: "https://www.tiktok.com/@{username}"},
		{Name: "Reddit", URLTemplate: "https://www.reddit.com/user/{username}"},
		{Name: "Pinterest", URLTemplate: "https://www.pinterest.com/{username}/"},
		{Name: "Tumblr", URLTemplate: "https://{username}.tumblr.com/"},
		{Name: "Medium", URLTemplate: "https://medium.com/@{username}"},
		{Name: "Keybase", URLTemplate: "https://keybase.io/{username}"},
		{Name: "YouTube", URLTemplate: "https://www.youtube.com/@{username}"},
		{Name: "StackOverflow", URLTemplate: "https://stackoverflow.com/users/{username}"},
		{Name: "DeviantArt", URLTemplate: "https://www.deviantart.com/{username}"},
		{Name: "Flickr", URLTemplate: "https://www.flickr.com/people/{username}/"},
		{Name: "Dribbble", URLTemplate: "https://dribbble.com/{username}"},
		{Name: "Behance", URLTemplate: "https://www.behance.net/{username}"},
		{Name: "SoundCloud", URLTemplate: "https://soundcloud.com/{username}"},
		{Name: "Vimeo", URLTemplate: "https://vimeo.com/{username}"},
		{Name: "Letterboxd", URLTemplate: "https://letterboxd.com/{username}/"},
		{Name: "Goodreads", URLTemplate: "https://www.goodreads.com/{username}"},
		{Name: "GitLab", URLTemplate: "https://gitlab.com/{username}"},
		{Name: "Discord", URLTemplate: "https://discordapp.com/users/{username}"},
		{Name: "StackExchange", URLTemplate: "https://stackexchange.com/users/{username}"},
	}
}
