// Design notes for the quiz game.
//
// Flow:
// - Each player connects, is assigned a cookie, and picks a display name
// - Players see a public room list, refreshed on change and every few seconds
// - Anyone can create a room: name, categories, difficulties, question count,
//   per-question timer, optional password; the creator becomes host
// - The host starts the game; everyone's score resets to zero
// - Questions are drawn one at a time from the configured filters; choices
//   are shuffled for display, the canonical answer never is
// - One submission per player per question; a correct answer is worth a
//   fixed number of points; duplicates are ignored silently
// - The question advances on a hard timeout (timer plus a fixed grace), no
//   matter how many players have answered
// - When the question target is reached, final standings are broadcast and
//   the room returns to the lobby
//
// Departures:
// - Leaving a lobby removes the entry; the next player in join order
//   inherits the host slot, and an emptied room is deleted on the spot
// - Leaving mid-game only marks the entry disconnected, so the score
//   survives; rejoining under the same name reclaims the entry
// - A host who drops mid-game leaves host-only actions unavailable until
//   they reconnect under the same name
//
// Possible future options:
// - Advance early once every connected player has answered, with a shorter
//   delay (the current fixed post-timer delay is the canonical behavior)
// - Auto-promote a connected player when the host drops mid-game

package games
