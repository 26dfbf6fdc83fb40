// Package monitoring turns a running virtual-memory core into a web server
// that reports its state and lets the workload be paused.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/vmm"
	"github.com/sarchlab/vmcore/monitoring/web"
	"github.com/sarchlab/vmcore/sim"
)

// A Component is anything with a name whose fields can be inspected.
type Component interface {
	Name() string
}

// A Controllable can be paused and resumed from the monitor.
type Controllable interface {
	Pause()
	Continue()
}

// Monitor serves the state of a manager over HTTP.
type Monitor struct {
	mgr        *vmm.Manager
	runner     Controllable
	components []Component
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterManager registers the manager to report on, together with its
// frame table and swap store.
func (m *Monitor) RegisterManager(mgr *vmm.Manager) {
	m.mgr = mgr

	m.RegisterComponent(mgr)
	m.RegisterComponent(mgr.Frames())
	m.RegisterComponent(mgr.Swap())
}

// RegisterRunner registers what the pause and continue requests control.
func (m *Monitor) RegisterRunner(r Controllable) {
	m.runner = r
}

// RegisterComponent registers a component to be inspected.
func (m *Monitor) RegisterComponent(c Component) {
	m.components = append(m.components, c)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pause)
	r.HandleFunc("/api/continue", m.resume)
	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/process/{pid}", m.listPages)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its address.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring with %s\n", url)

	r := m.router()
	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	if m.runner == nil {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	m.runner.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) resume(w http.ResponseWriter, _ *http.Request) {
	if m.runner == nil {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	m.runner.Continue()
	w.WriteHeader(http.StatusOK)
}

type statsRsp struct {
	Resident     int    `json:"resident"`
	Allocations  uint64 `json:"allocations"`
	Evictions    uint64 `json:"evictions"`
	SwapOuts     uint64 `json:"swap_outs"`
	WriteBacks   uint64 `json:"write_backs"`
	Drops        uint64 `json:"drops"`
	Faults       uint64 `json:"faults"`
	SwapUsed     int    `json:"swap_used"`
	SwapCapacity int    `json:"swap_capacity"`
	Processes    int    `json:"processes"`
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	if m.managerOr404(w) == nil {
		return
	}

	s := m.mgr.Stats()
	writeJSON(w, statsRsp{
		Resident:     s.Frames.Resident,
		Allocations:  s.Frames.Allocations,
		Evictions:    s.Frames.Evictions,
		SwapOuts:     s.Frames.SwapOuts,
		WriteBacks:   s.Frames.WriteBacks,
		Drops:        s.Frames.Drops,
		Faults:       s.Faults,
		SwapUsed:     s.SwapUsed,
		SwapCapacity: s.SwapCapacity,
		Processes:    s.Processes,
	})
}

type frameRsp struct {
	Num   vm.FrameNum `json:"num"`
	PID   vm.PID      `json:"pid"`
	VAddr uint64      `json:"vaddr"`
	Bound bool        `json:"bound"`
}

type framesRsp struct {
	Hand   int        `json:"hand"`
	Frames []frameRsp `json:"frames"`
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	if m.managerOr404(w) == nil {
		return
	}

	rsp := framesRsp{
		Hand:   m.mgr.Frames().Hand(),
		Frames: []frameRsp{},
	}

	for _, f := range m.mgr.Frames().Frames() {
		rsp.Frames = append(rsp.Frames, frameRsp{
			Num:   f.Num,
			PID:   f.PID,
			VAddr: f.VAddr,
			Bound: f.Bound,
		})
	}

	writeJSON(w, rsp)
}

type processRsp struct {
	PID      vm.PID `json:"pid"`
	Name     string `json:"name"`
	Resident int    `json:"resident"`
	Entries  int    `json:"entries"`
	Mappings int    `json:"mappings"`
	SP       uint64 `json:"sp"`
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	if m.managerOr404(w) == nil {
		return
	}

	rsp := []processRsp{}
	for _, p := range m.mgr.Processes() {
		spt := p.Supplemental()
		spt.Lock()
		entries := spt.Len()
		spt.Unlock()

		rsp = append(rsp, processRsp{
			PID:      p.PID(),
			Name:     p.Name(),
			Resident: p.AddressSpace().NumPresent(),
			Entries:  entries,
			Mappings: len(p.Mappings().Mappings()),
			SP:       p.StackPointer(),
		})
	}

	writeJSON(w, rsp)
}

type pageRsp struct {
	VAddr    uint64 `json:"vaddr"`
	Kind     string `json:"kind"`
	Writable bool   `json:"writable"`
	Loaded   bool   `json:"loaded"`
}

func (m *Monitor) listPages(w http.ResponseWriter, r *http.Request) {
	if m.managerOr404(w) == nil {
		return
	}

	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	p, ok := m.mgr.Process(vm.PID(pid))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "Process not found")

		return
	}

	spt := p.Supplemental()
	spt.Lock()
	entries := spt.Snapshot()
	spt.Unlock()

	rsp := make([]pageRsp, 0, len(entries))
	for _, e := range entries {
		rsp = append(rsp, pageRsp{
			VAddr:    e.VAddr,
			Kind:     e.Kind().String(),
			Writable: e.Writable,
			Loaded:   e.Loaded,
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) managerOr404(w http.ResponseWriter) *vmm.Manager {
	if m.mgr == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "No manager registered")
	}

	return m.mgr
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) Component {
	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Component not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
