package whitelist

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"github.com/JP-Makers/rs-dbc/base"
	"github.com/JP-Makers/rs-dbc/dbc"
)

var log = base.Logger

const (
	OK uint = iota
	ReadBodyError
	ParseJsonError
	InvalidAction
	WrongHttpMethod
)

// Action
const (
	Do_ResetWith int = iota + 1
	Do_Add
	Do_Delete
)

// AllSignals in a request selects every signal the DBC defines for a message.
const AllSignals = "*"

var WhiteListCode = map[uint]string{
	OK:              "OK",
	ReadBodyError:   "Read body error",
	ParseJsonError:  "Parse json error",
	InvalidAction:   "Invalid action",
	WrongHttpMethod: "Wrong http method, should use POST",
}

var ErrEmptyFilename = errors.New("WhiteList filename is empty")

type WhiteListRsp struct {
	StatusCode uint   `json:"statusCode"`
	Reason     string `json:"reason"`
}

type WhiteListReq struct {
	TaskId    int                 `json:"taskId"`
	Action    int                 `json:"action"`
	CanList   map[string][]string `json:"canList"`
	TimeStamp string              `json:"timeStamp"`
}

// WhiteListMap is keyed by the id as it appears on the bus: extended
// ids are stored without bit 31.
type WhiteListMap map[uint64]map[string]bool

func frameID(canId uint64) uint64 {
	return canId & uint64(dbc.FrameIDMask)
}

// WhiteList is the set of CAN ids and signals that get decoded. It
// satisfies can.Filter.
type WhiteList struct {
	mu           sync.Mutex
	whiteListMap WhiteListMap
	enable       bool
	dbc          *dbc.Dbc
	saveCh       chan struct{}
}

// New returns an empty whitelist. d resolves "*" signal lists and may be nil.
func New(d *dbc.Dbc, enable bool) *WhiteList {
	return &WhiteList{
		whiteListMap: make(WhiteListMap),
		enable:       enable,
		dbc:          d,
		saveCh:       make(chan struct{}, 1),
	}
}

func (w *WhiteList) SetEnableFlag(enable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enable = enable
}

func (w *WhiteList) IsEnable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enable
}

func (w *WhiteList) QueryByCanId(canId uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.whiteListMap[frameID(canId)]
	return ok
}

func (w *WhiteList) QueryByCanIdAndSignal(canId uint64, signal string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.whiteListMap[frameID(canId)][signal]
}

// Apply executes req and schedules a save. It returns InvalidAction for
// an unknown action.
func (w *WhiteList) Apply(req *WhiteListReq) uint {
	switch req.Action {
	case Do_ResetWith:
		w.resetWith(req)
	case Do_Add:
		w.add(req)
	case Do_Delete:
		w.delete(req)
	default:
		return InvalidAction
	}

	w.notifySave()
	return OK
}

func (w *WhiteList) resetWith(req *WhiteListReq) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.whiteListMap = WhiteListMap{}
	w.innerAdd(req)
}

func (w *WhiteList) add(req *WhiteListReq) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.innerAdd(req)
}

func (w *WhiteList) innerAdd(req *WhiteListReq) {
	for strCanId, vSignals := range req.CanList {
		canId, err := strconv.ParseUint(strCanId, 10, 32)
		if err != nil {
			log.Errorln(err)
			continue
		}
		canId = frameID(canId)

		names, ok := w.expand(canId, vSignals)
		if !ok {
			continue
		}

		signals := w.whiteListMap[canId]
		if signals == nil {
			signals = make(map[string]bool, len(names))
			w.whiteListMap[canId] = signals
		}
		for _, signal := range names {
			signals[signal] = true
		}
	}
}

func (w *WhiteList) delete(req *WhiteListReq) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for strCanId, vSignals := range req.CanList {
		canId, err := strconv.ParseUint(strCanId, 10, 32)
		if err != nil {
			log.Errorln(err)
			continue
		}
		canId = frameID(canId)

		signals, ok := w.whiteListMap[canId]
		if !ok {
			continue
		}

		names, ok := w.expand(canId, vSignals)
		if !ok {
			continue
		}
		for _, signal := range names {
			delete(signals, signal)
		}

		if len(signals) == 0 {
			delete(w.whiteListMap, canId)
		}
	}
}

// expand resolves a lone "*" to the message's signal names.
func (w *WhiteList) expand(canId uint64, vSignals []string) ([]string, bool) {
	if len(vSignals) != 1 || vSignals[0] != AllSignals {
		return vSignals, true
	}

	if w.dbc == nil {
		log.Errorf("No dbc data !!! canId(%d)", canId)
		return nil, false
	}

	msg, ok := w.dbc.MessageByFrameID(uint32(canId))
	if !ok {
		log.Errorf("No dbc data !!! canId(%d)", canId)
		return nil, false
	}

	names := make([]string, 0, len(msg.Signals))
	for i := range msg.Signals {
		names = append(names, msg.Signals[i].Name)
	}
	return names, true
}

// Snapshot returns a deep copy of the current whitelist.
func (w *WhiteList) Snapshot() WhiteListMap {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(WhiteListMap, len(w.whiteListMap))
	for canId, signals := range w.whiteListMap {
		cp := make(map[string]bool, len(signals))
		for k, v := range signals {
			cp[k] = v
		}
		out[canId] = cp
	}
	return out
}

// Handler serves whitelist updates. Only POST is accepted.
func (w *WhiteList) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			rspByCode(c, WrongHttpMethod, http.StatusMethodNotAllowed)
			return
		}

		all, err := c.GetRawData()
		if err != nil {
			rspByCode(c, ReadBodyError, http.StatusInternalServerError)
			return
		}

		req := WhiteListReq{}
		if err := jsoniter.Unmarshal(all, &req); err != nil {
			rspByCode(c, ParseJsonError, http.StatusUnprocessableEntity)
			return
		}

		if code := w.Apply(&req); code != OK {
			rspByCode(c, code, http.StatusUnprocessableEntity)
			return
		}

		rspByCode(c, OK, http.StatusOK)
	}
}

func rspByCode(c *gin.Context, errCode uint, statusCode int) {
	c.JSON(statusCode, &WhiteListRsp{errCode, WhiteListCode[errCode]})
}

// Load replaces the whitelist with the contents of a JSON file. A missing
// or empty file leaves the whitelist empty.
func (w *WhiteList) Load(whiteListFile string) error {
	if whiteListFile == "" {
		return ErrEmptyFilename
	}

	data, err := os.ReadFile(whiteListFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", whiteListFile)
	}

	m := make(WhiteListMap)
	if len(data) > 0 {
		var saved WhiteListMap
		if err := jsoniter.Unmarshal(data, &saved); err != nil {
			return errors.Wrapf(err, "decode %s", whiteListFile)
		}
		for canId, signals := range saved {
			id := frameID(canId)
			if m[id] == nil {
				m[id] = signals
				continue
			}
			for name, on := range signals {
				m[id][name] = on
			}
		}
	}

	w.mu.Lock()
	w.whiteListMap = m
	w.mu.Unlock()
	return nil
}

// Save writes the whitelist to a JSON file.
func (w *WhiteList) Save(whiteListFile string) error {
	if whiteListFile == "" {
		return ErrEmptyFilename
	}

	buf, err := w.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(whiteListFile, buf, 0o666); err != nil {
		return errors.Wrapf(err, "write %s", whiteListFile)
	}

	log.Debugf("Write (%s) ok! has written (%d) bytes", whiteListFile, len(buf))
	return nil
}

func (w *WhiteList) Marshal() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return jsoniter.Marshal(w.whiteListMap)
}

func (w *WhiteList) notifySave() {
	select {
	case w.saveCh <- struct{}{}:
	default:
	}
}

// RunSaver persists the whitelist after every change until ctx is done,
// then saves one last time.
func (w *WhiteList) RunSaver(ctx context.Context, whiteListFile string) error {
	if whiteListFile == "" {
		return ErrEmptyFilename
	}

	for {
		select {
		case <-ctx.Done():
			return w.Save(whiteListFile)
		case <-w.saveCh:
			if err := w.Save(whiteListFile); err != nil {
				log.Errorln(err)
			}
		}
	}
}
