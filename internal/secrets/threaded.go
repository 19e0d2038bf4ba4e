package secrets

import (
	"context"
	"time"
)

// replyTimeout is the 1-second command timeout of spec §4.4.
const replyTimeout = 1 * time.Second

type cmdKind int

const (
	cmdInsert cmdKind = iota
	cmdInsertMany
	cmdGet
	cmdFind
	cmdRemove
	cmdCount
	cmdTerminate
)

type command struct {
	kind    cmdKind
	secret  Secret
	secrets []Secret
	id      string
	ids     []string

	replyErr    chan error
	replySecret chan *Secret
	replyList   chan []Secret
	replyBool   chan bool
	replyInt    chan int
}

// ThreadedResolver owns a goroutine holding the secret map; callers send
// commands over an MPSC channel, per spec §4.4. Each command with a reply
// carries a one-shot reply channel. A 1-second timeout on sending a
// command or on its reply yields the zero value if the owning goroutine
// is unresponsive; Insert and InsertMany return context.DeadlineExceeded
// instead.
type ThreadedResolver struct {
	cmds chan command
	done chan struct{}
}

// NewThreadedResolver starts the owning goroutine and returns immediately.
func NewThreadedResolver() *ThreadedResolver {
	r := &ThreadedResolver{
		cmds: make(chan command, 32),
		done: make(chan struct{}),
	}

	go r.loop()

	return r
}

func (r *ThreadedResolver) loop() {
	secrets := make(map[string]Secret)
	defer close(r.done)

	for cmd := range r.cmds {
		switch cmd.kind {
		case cmdInsert:
			secrets[cmd.secret.ID] = cmd.secret
			cmd.replyErr <- nil
		case cmdInsertMany:
			for _, s := range cmd.secrets {
				secrets[s.ID] = s
			}

			cmd.replyErr <- nil
		case cmdGet:
			if s, ok := secrets[cmd.id]; ok {
				cp := s
				cmd.replySecret <- &cp
			} else {
				cmd.replySecret <- nil
			}
		case cmdFind:
			out := make([]Secret, 0, len(cmd.ids))

			for _, id := range cmd.ids {
				if s, ok := secrets[id]; ok {
					out = append(out, s)
				}
			}

			cmd.replyList <- out
		case cmdRemove:
			if s, ok := secrets[cmd.id]; ok {
				s.Destroy()
				delete(secrets, cmd.id)
				cmd.replyBool <- true
			} else {
				cmd.replyBool <- false
			}
		case cmdCount:
			cmd.replyInt <- len(secrets)
		case cmdTerminate:
			for _, s := range secrets {
				s.Destroy()
			}

			cmd.replyErr <- nil

			return
		}
	}
}

// Terminate stops the owning goroutine, zeroing all resident secrets.
func (r *ThreadedResolver) Terminate(ctx context.Context) error {
	reply := make(chan error, 1)

	select {
	case r.cmds <- command{kind: cmdTerminate, replyErr: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(r.cmds)

	select {
	case err := <-reply:
		return err
	case <-time.After(replyTimeout):
		return nil
	}
}

func (r *ThreadedResolver) Insert(ctx context.Context, s Secret) error {
	reply := make(chan error, 1)

	if err := r.dispatch(ctx, command{kind: cmdInsert, secret: s, replyErr: reply}); err != nil {
		return err
	}

	return waitErr(reply)
}

func (r *ThreadedResolver) InsertMany(ctx context.Context, secrets []Secret) error {
	reply := make(chan error, 1)

	if err := r.dispatch(ctx, command{kind: cmdInsertMany, secrets: secrets, replyErr: reply}); err != nil {
		return err
	}

	return waitErr(reply)
}

func (r *ThreadedResolver) GetSecret(ctx context.Context, id string) (*Secret, bool) {
	reply := make(chan *Secret, 1)

	if err := r.dispatch(ctx, command{kind: cmdGet, id: id, replySecret: reply}); err != nil {
		return nil, false
	}

	select {
	case s := <-reply:
		return s, s != nil
	case <-time.After(replyTimeout):
		return nil, false
	}
}

func (r *ThreadedResolver) FindSecrets(ctx context.Context, ids []string) []Secret {
	reply := make(chan []Secret, 1)

	if err := r.dispatch(ctx, command{kind: cmdFind, ids: ids, replyList: reply}); err != nil {
		return nil
	}

	select {
	case out := <-reply:
		return out
	case <-time.After(replyTimeout):
		return nil
	}
}

func (r *ThreadedResolver) RemoveSecret(ctx context.Context, id string) bool {
	reply := make(chan bool, 1)

	if err := r.dispatch(ctx, command{kind: cmdRemove, id: id, replyBool: reply}); err != nil {
		return false
	}

	select {
	case ok := <-reply:
		return ok
	case <-time.After(replyTimeout):
		return false
	}
}

func (r *ThreadedResolver) Len(ctx context.Context) int {
	reply := make(chan int, 1)

	if err := r.dispatch(ctx, command{kind: cmdCount, replyInt: reply}); err != nil {
		return 0
	}

	select {
	case n := <-reply:
		return n
	case <-time.After(replyTimeout):
		return 0
	}
}

func (r *ThreadedResolver) dispatch(ctx context.Context, cmd command) error {
	select {
	case r.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(replyTimeout):
		return context.DeadlineExceeded
	}
}

func waitErr(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-time.After(replyTimeout):
		return context.DeadlineExceeded
	}
}

var _ Resolver = (*ThreadedResolver)(nil)
