package chainio

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MarketplaceABI is the subset of the TaskMarketplace contract ABI the
// engine calls.
const MarketplaceABI = `[
    {"inputs":[],"name":"getAllTaskIds","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
    {
        "inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"}],
        "name":"getTask",
        "outputs":[
            {"internalType":"address","name":"client","type":"address"},
            {"internalType":"string","name":"name","type":"string"},
            {"internalType":"uint256","name":"reward","type":"uint256"},
            {"internalType":"uint256","name":"deadline","type":"uint256"},
            {"internalType":"uint8","name":"state","type":"uint8"},
            {"internalType":"string","name":"status","type":"string"},
            {"internalType":"address","name":"approvedWorker","type":"address"}
        ],
        "stateMutability":"view","type":"function"
    },
    {
        "inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"}],
        "name":"getSubmissions",
        "outputs":[
            {
                "components":[
                    {"internalType":"address","name":"worker","type":"address"},
                    {"internalType":"string","name":"name","type":"string"},
                    {"internalType":"string","name":"proof","type":"string"},
                    {"internalType":"bool","name":"submitted","type":"bool"},
                    {"internalType":"bool","name":"rejected","type":"bool"}
                ],
                "internalType":"struct TaskMarketplace.Submission[]",
                "name":"",
                "type":"tuple[]"
            },
            {"internalType":"string","name":"description","type":"string"}
        ],
        "stateMutability":"view","type":"function"
    },
    {
        "inputs":[
            {"internalType":"address","name":"user","type":"address"},
            {"internalType":"uint256","name":"taskId","type":"uint256"}
        ],
        "name":"submissionStatus",
        "outputs":[{"internalType":"uint8","name":"","type":"uint8"}],
        "stateMutability":"view","type":"function"
    },
    {"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getReputation","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
    {"inputs":[],"name":"getActiveReviewIds","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
    {
        "inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"}],
        "name":"getReviewStatus",
        "outputs":[
            {"internalType":"bool","name":"active","type":"bool"},
            {"internalType":"uint256","name":"yesVotes","type":"uint256"},
            {"internalType":"uint256","name":"noVotes","type":"uint256"},
            {"internalType":"bool","name":"hasVoted","type":"bool"},
            {"internalType":"address","name":"worker","type":"address"}
        ],
        "stateMutability":"view","type":"function"
    },
    {"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getName","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
    {"inputs":[],"name":"getMyName","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
    {"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"isJudge","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
    {"inputs":[],"name":"judgeCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},

    {
        "inputs":[
            {"internalType":"string","name":"description","type":"string"},
            {"internalType":"uint256","name":"deadline","type":"uint256"}
        ],
        "name":"createTask","outputs":[],"stateMutability":"payable","type":"function"
    },
    {"inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"}],"name":"claimTask","outputs":[],"stateMutability":"nonpayable","type":"function"},
    {
        "inputs":[
            {"internalType":"uint256","name":"taskId","type":"uint256"},
            {"internalType":"string","name":"proof","type":"string"}
        ],
        "name":"submitTask","outputs":[],"stateMutability":"nonpayable","type":"function"
    },
    {
        "inputs":[
            {"internalType":"uint256","name":"taskId","type":"uint256"},
            {"internalType":"address","name":"worker","type":"address"}
        ],
        "name":"approveTask","outputs":[],"stateMutability":"nonpayable","type":"function"
    },
    {
        "inputs":[
            {"internalType":"uint256","name":"taskId","type":"uint256"},
            {"internalType":"address","name":"worker","type":"address"}
        ],
        "name":"rejectSubmission","outputs":[],"stateMutability":"nonpayable","type":"function"
    },
    {"inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"}],"name":"raiseReviewRequest","outputs":[],"stateMutability":"nonpayable","type":"function"},
    {
        "inputs":[
            {"internalType":"uint256","name":"taskId","type":"uint256"},
            {"internalType":"bool","name":"approve","type":"bool"}
        ],
        "name":"voteOnReview","outputs":[],"stateMutability":"nonpayable","type":"function"
    },
    {"inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"}],"name":"cancelTask","outputs":[],"stateMutability":"nonpayable","type":"function"},
    {"inputs":[{"internalType":"string","name":"name","type":"string"}],"name":"setName","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var parsedABI = sync.OnceValues(func() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(MarketplaceABI))
})

// ParsedABI returns the parsed MarketplaceABI.
func ParsedABI() (abi.ABI, error) {
	return parsedABI()
}
