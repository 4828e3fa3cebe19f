package terminal

import (
	"fmt"
	"testing"
)

type fakeController struct {
	target        string
	numNodes      int
	assetNodes    int
	seedValue     uint32
	seedRerolled  bool
	width, height float64
	lossProb      float64
	delayMs       uint32
	jsonVerbose   bool
	sitePath      string
	devicesPath   string
	positions     map[uint32][3]float64
	animationArgs []string
	flushed       bool
	flushFailed   bool
	blocked       bool
	reestablished uint16
	lossSimulated bool
}

func newFakeController() *fakeController {
	return &fakeController{positions: make(map[uint32][3]float64)}
}

func (f *fakeController) Stat() string { return "ok" }

func (f *fakeController) SetTerminalTarget(target string) error {
	f.target = target
	return nil
}

func (f *fakeController) SetNumNodes(n int) error {
	if n <= 0 {
		return fmt.Errorf("bad node count")
	}
	f.numNodes = n
	return nil
}

func (f *fakeController) SetAssetNodes(n int) error {
	f.assetNodes = n
	return nil
}

func (f *fakeController) SetSeed(value uint32, reroll bool) error {
	f.seedValue = value
	f.seedRerolled = reroll
	return nil
}

func (f *fakeController) SetMapWidth(meters float64) error  { f.width = meters; return nil }
func (f *fakeController) SetMapHeight(meters float64) error { f.height = meters; return nil }

func (f *fakeController) SetLossProbability(p float64) error { f.lossProb = p; return nil }
func (f *fakeController) SetDelay(ms uint32) error            { f.delayMs = ms; return nil }
func (f *fakeController) SetJSONVerbose(enabled bool) error   { f.jsonVerbose = enabled; return nil }

func (f *fakeController) LoadSite(path string) error    { f.sitePath = path; return nil }
func (f *fakeController) LoadDevices(path string) error { f.devicesPath = path; return nil }

func (f *fakeController) SetPosition(serial uint32, x, y, z float64) error {
	f.positions[serial] = [3]float64{x, y, z}
	return nil
}
func (f *fakeController) AddPosition(serial uint32, x, y, z float64) error {
	cur := f.positions[serial]
	f.positions[serial] = [3]float64{cur[0] + x, cur[1] + y, cur[2] + z}
	return nil
}

func (f *fakeController) Animation(args []string) error {
	f.animationArgs = args
	return nil
}

func (f *fakeController) Flush() error           { f.flushed = true; return nil }
func (f *fakeController) FlushFail() error        { f.flushFailed = true; return nil }
func (f *fakeController) BlockConnections() error { f.blocked = true; return nil }

func (f *fakeController) Reestablish(handle uint16) error {
	f.reestablished = handle
	return nil
}

func (f *fakeController) SimulateLoss() error { f.lossSimulated = true; return nil }

func (f *fakeController) SendStat(id string) string  { return "send:" + id }
func (f *fakeController) RouteStat(id string) string { return "route:" + id }

func newTestDispatcher() (*Dispatcher, *fakeController) {
	c := newFakeController()
	d := NewDispatcher()
	RegisterSimulatorCommands(d, c)
	return d, c
}

func TestNodesCommandSetsNumNodes(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("nodes 12"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.numNodes != 12 {
		t.Fatalf("expected numNodes 12, got %d", c.numNodes)
	}
}

func TestNodesCommandRejectsNonPositive(t *testing.T) {
	d, _ := newTestDispatcher()
	if err := d.Execute("nodes 0"); err == nil {
		t.Fatalf("expected error for nodes 0")
	}
}

func TestSeedWithValueDisablesReroll(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("seed 42"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.seedValue != 42 || c.seedRerolled {
		t.Fatalf("expected seed 42 without reroll, got %+v", c)
	}
}

func TestSeedWithoutValueRerolls(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("seed"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !c.seedRerolled {
		t.Fatalf("expected reroll when no seed value given")
	}
}

func TestSeedrAlwaysRerolls(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("seedr"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !c.seedRerolled {
		t.Fatalf("expected seedr to reroll")
	}
}

func TestWidthAndHeightUpdateMapDimensions(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("width 12.5"); err != nil {
		t.Fatalf("width: %v", err)
	}
	if err := d.Execute("height 7"); err != nil {
		t.Fatalf("height: %v", err)
	}
	if c.width != 12.5 || c.height != 7 {
		t.Fatalf("expected width/height 12.5/7, got %v/%v", c.width, c.height)
	}
}

func TestSiteAndDevicesForwardPaths(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("site /tmp/site.json"); err != nil {
		t.Fatalf("site: %v", err)
	}
	if err := d.Execute("devices /tmp/devices.json"); err != nil {
		t.Fatalf("devices: %v", err)
	}
	if c.sitePath != "/tmp/site.json" || c.devicesPath != "/tmp/devices.json" {
		t.Fatalf("expected paths forwarded, got %+v", c)
	}
}

func TestSimSetPositionParsesCoordinates(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("sim set_position 3 1.5 2.5 0"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := c.positions[3]
	if got != [3]float64{1.5, 2.5, 0} {
		t.Fatalf("unexpected position %v", got)
	}
}

func TestSimAddPositionAccumulates(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("sim set_position 1 1 1 1"); err != nil {
		t.Fatalf("set_position: %v", err)
	}
	if err := d.Execute("sim add_position 1 1 1 1"); err != nil {
		t.Fatalf("add_position: %v", err)
	}
	if c.positions[1] != [3]float64{2, 2, 2} {
		t.Fatalf("expected accumulated position, got %v", c.positions[1])
	}
}

func TestSimAnimationForwardsArgsVerbatim(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("sim animation create foo"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(c.animationArgs) != 2 || c.animationArgs[0] != "create" || c.animationArgs[1] != "foo" {
		t.Fatalf("unexpected animation args %v", c.animationArgs)
	}
}

func TestSimUnknownSubcommandErrors(t *testing.T) {
	d, _ := newTestDispatcher()
	if err := d.Execute("sim bogus"); err == nil {
		t.Fatalf("expected error for unknown sim subcommand")
	}
}

func TestFlushFlushfailBlockconnAndSimloss(t *testing.T) {
	d, c := newTestDispatcher()
	for _, cmd := range []string{"flush", "flushfail", "blockconn", "simloss"} {
		if err := d.Execute(cmd); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
	if !c.flushed || !c.flushFailed || !c.blocked || !c.lossSimulated {
		t.Fatalf("expected all fault-injection flags set, got %+v", c)
	}
}

func TestReesParsesHandle(t *testing.T) {
	d, c := newTestDispatcher()
	if err := d.Execute("rees 7"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.reestablished != 7 {
		t.Fatalf("expected reestablished handle 7, got %d", c.reestablished)
	}
}

func TestSendstatAndRoutestatAcceptOptionalID(t *testing.T) {
	d, _ := newTestDispatcher()
	if err := d.Execute("sendstat"); err != nil {
		t.Fatalf("sendstat without id: %v", err)
	}
	if err := d.Execute("sendstat 5"); err != nil {
		t.Fatalf("sendstat with id: %v", err)
	}
	if err := d.Execute("routestat 5"); err != nil {
		t.Fatalf("routestat with id: %v", err)
	}
}

func TestTermRequiresExactlyOneArgument(t *testing.T) {
	d, _ := newTestDispatcher()
	if err := d.Execute("term"); err == nil {
		t.Fatalf("expected error for term with no args")
	}
	if err := d.Execute("term all"); err != nil {
		t.Fatalf("term all: %v", err)
	}
}

func TestCommandWithValidCRCExecutes(t *testing.T) {
	d, c := newTestDispatcher()
	// crc32.ChecksumIEEE("nodes 5") == 1250801021
	if err := d.Execute("nodes 5 CRC: 1250801021"); err != nil {
		t.Fatalf("Execute with valid CRC: %v", err)
	}
	if c.numNodes != 5 {
		t.Fatalf("expected numNodes 5, got %d", c.numNodes)
	}
}

func TestCommandWithInvalidCRCFails(t *testing.T) {
	d, _ := newTestDispatcher()
	if err := d.Execute("nodes 5 CRC: 1"); err == nil {
		t.Fatalf("expected CRC mismatch error")
	}
}
