package delivery

import (
	"math/rand/v2"
	"sync"
)

// Apology is sent instead of an answer when the wait is abandoned.
const Apology = "I apologize! There seems to be a backend issue. Can you please ask another query?"

// waitNotices are the "still working" messages sent while an answer is
// pending.
var waitNotices = []string{
	"Hold on, I'm fetching the results for you.",
	"Please wait a moment, I'm retrieving the information.",
	"Fetching data, just a moment please.",
	"Almost done!",
	"Please hold on while I fetch your results.",
	"Almost done fetching, don't go away!",
	"Fetching data, appreciate your patience!",
	"Getting your data, thank you for waiting!",
}

// WaitNotices returns a copy of the notice phrases.
func WaitNotices() []string {
	return append([]string(nil), waitNotices...)
}

// noticeDeck hands out notice phrases in shuffled order, using every phrase
// before repeating any.
type noticeDeck struct {
	mu     sync.Mutex
	rng    *rand.Rand
	phrase []string
	deck   []string
}

func newNoticeDeck(phrases []string, rng *rand.Rand) *noticeDeck {
	if len(phrases) == 0 {
		phrases = waitNotices
	}
	return &noticeDeck{rng: rng, phrase: phrases}
}

func (d *noticeDeck) next() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.deck) == 0 {
		d.deck = append(d.deck[:0], d.phrase...)
		d.rng.Shuffle(len(d.deck), func(i, j int) {
			d.deck[i], d.deck[j] = d.deck[j], d.deck[i]
		})
	}
	p := d.deck[len(d.deck)-1]
	d.deck = d.deck[:len(d.deck)-1]
	return p
}
