package tfm_test

import (
	"fmt"
	"net/netip"
	"time"

	tfm "github.com/nfvproject/TFM"
	"github.com/nfvproject/TFM/flow"
	"github.com/nfvproject/TFM/message"
	"github.com/nfvproject/TFM/nom"
)

func Example() {
	mgr := tfm.NewManager()
	defer mgr.Stop()

	// Middleboxes are usually attached when they connect to the server. Here
	// we use mock channels to play their role.
	src := tfm.NewMiddlebox(nom.Middlebox{ID: "ids1"}, &tfm.MockCommander{})
	dst := tfm.NewMiddlebox(nom.Middlebox{ID: "ids2"}, &tfm.MockCommander{})
	srcCh, dstCh := tfm.NewMockChannel(), tfm.NewMockChannel()
	src.Attach(srcCh)
	dst.Attach(dstCh)
	mgr.AddMiddlebox(src)
	mgr.AddMiddlebox(dst)

	id, err := mgr.Move(tfm.MoveRequest{
		Src:          src,
		Dst:          dst,
		Key:          flow.Selector{DstIP: netip.MustParseAddr("10.0.0.1")},
		Scope:        tfm.Perflow,
		Guarantee:    tfm.NoGuarantee,
		Optimization: tfm.PZ,
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	op, _ := mgr.Operation(id)

	get, _ := srcCh.Next(time.Second)
	fmt.Println(get.Type())

	h := message.Header{ID: id}
	mgr.Dispatch(message.StatePerflow{Header: h, HashKey: 1, State: "c"}, src)
	mgr.Dispatch(message.GetPerflowAck{Header: h, Count: 1}, src)

	put, _ := dstCh.Next(time.Second)
	fmt.Println(put.Type())

	mgr.Dispatch(message.PutPerflowAck{Header: h, HashKey: 1}, dst)
	<-op.Done()
	fmt.Println(op.Status())

	// Output:
	// get-perflow
	// put-perflow
	// FINISHED
}
