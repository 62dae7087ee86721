// Package chat contains the Twitch chat emote harvester.
//
// The harvester joins the configured channels anonymously over IRC and
// watches the emote tags attached to every chat message. Each emote that is
// not in the remote emote cache yet is downloaded from the Twitch CDN and
// stored under its name, so emotes seen in chat become resolvable without a
// Helix listing.
//
// No credentials are needed: anonymous IRC connections can read chat and
// the CDN serves images without authentication. Downloads are serialized
// through one worker and paced by a token bucket.
package chat
